package config

import (
	"strings"
)

// normalize lowercases enum-like fields and replaces unusable values with
// defaults.
func (c *Config) normalize() {
	def := Default()

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	c.Gateway.QueueMode = strings.ToLower(strings.TrimSpace(c.Gateway.QueueMode))
	if c.Gateway.QueueMode == "" {
		c.Gateway.QueueMode = def.Gateway.QueueMode
	}
	c.Telemetry.Protocol = strings.ToLower(strings.TrimSpace(c.Telemetry.Protocol))

	positive(&c.Telegram.MaxUploadMB, def.Telegram.MaxUploadMB)
	positive(&c.Telegram.ProgressThrottleMs, def.Telegram.ProgressThrottleMs)
	positive(&c.Search.ProgressStepPercent, def.Search.ProgressStepPercent)
	positive(&c.Search.ProgressEveryLines, def.Search.ProgressEveryLines)
	positive(&c.Search.MaxResultMB, def.Search.MaxResultMB)
	positive(&c.Search.MaxLineKB, def.Search.MaxLineKB)
	positive(&c.Search.Parallelism, def.Search.Parallelism)
	positive(&c.Remote.ConnectTimeoutSec, def.Remote.ConnectTimeoutSec)
	positive(&c.Remote.ReadTimeoutSec, def.Remote.ReadTimeoutSec)
	positive(&c.Gateway.QueueCap, def.Gateway.QueueCap)
	positive(&c.Gateway.MaxConcurrent, def.Gateway.MaxConcurrent)
	if c.Remote.Retries < 0 {
		c.Remote.Retries = 0
	}
	if c.Telegram.UploadDir == "" {
		c.Telegram.UploadDir = def.Telegram.UploadDir
	}

	c.Telegram.AllowFrom = NormalizeAllowFrom(c.Telegram.AllowFrom)
}

func positive(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// NormalizeAllowFrom trims entries, strips a leading "@", lowercases
// usernames and drops blanks and duplicates.
func NormalizeAllowFrom(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
