package search

// Progress is a snapshot of a running scan.
type Progress struct {
	Resource string
	Lines    int64
	Bytes    int64
	Total    int64 // declared size in bytes, 0 when unknown
	Percent  int   // -1 when Total is unknown
	Matches  int
	Done     bool
}

// ProgressFunc receives progress updates. It is called on the scanning
// goroutine and should return quickly.
type ProgressFunc func(Progress)

// Cadence controls how often progress is emitted.
type Cadence struct {
	StepPercent int   // known size: emit on each StepPercent boundary
	EveryLines  int64 // unknown size: emit every EveryLines lines
}

// DefaultCadence emits every 5% or every 5,000 lines.
func DefaultCadence() Cadence {
	return Cadence{StepPercent: 5, EveryLines: 5000}
}

func (c Cadence) normalized() Cadence {
	if c.StepPercent <= 0 || c.StepPercent > 100 {
		c.StepPercent = 5
	}
	if c.EveryLines <= 0 {
		c.EveryLines = 5000
	}
	return c
}

// progressTracker applies the cadence. With a known size it emits once per
// percent boundary crossed, never going backwards; without one it emits on
// every EveryLines-th line.
type progressTracker struct {
	cadence Cadence
	total   int64
	next    int
	emit    ProgressFunc
}

func newProgressTracker(c Cadence, total int64, emit ProgressFunc) *progressTracker {
	c = c.normalized()
	return &progressTracker{cadence: c, total: total, next: c.StepPercent, emit: emit}
}

func (t *progressTracker) observe(p Progress) {
	if t.emit == nil {
		return
	}

	if t.total > 0 {
		pct := percentOf(p.Bytes, t.total)
		if pct < t.next {
			return
		}
		step := t.cadence.StepPercent
		t.next = (pct/step + 1) * step
		p.Percent = pct
		t.emit(p)
		return
	}

	if p.Lines > 0 && p.Lines%t.cadence.EveryLines == 0 {
		p.Percent = -1
		t.emit(p)
	}
}

// finish emits the single completion update.
func (t *progressTracker) finish(p Progress) {
	if t.emit == nil {
		return
	}
	p.Done = true
	p.Percent = -1
	if t.total > 0 {
		p.Percent = percentOf(p.Bytes, t.total)
	}
	t.emit(p)
}

func percentOf(n, total int64) int {
	if total <= 0 {
		return -1
	}
	pct := int(n * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
