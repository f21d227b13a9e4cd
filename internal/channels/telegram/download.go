package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/linescout/internal/session"
	"github.com/nextlevelbuilder/linescout/internal/source"
)

// downloadDocument streams an uploaded document into
// <UploadDir>/<chatID>/<file name> and returns the matching upload event.
func (c *Channel) downloadDocument(ctx context.Context, chatID int64, doc *telego.Document) (session.FileUpload, error) {
	file, err := c.api.GetFile(ctx, &telego.GetFileParams{FileID: doc.FileID})
	if err != nil {
		return session.FileUpload{}, fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return session.FileUpload{}, fmt.Errorf("get file: empty file path")
	}

	name := uploadName(doc.FileName, doc.FileUniqueID)
	dir := filepath.Join(c.cfg.UploadDir, formatChatID(chatID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return session.FileUpload{}, fmt.Errorf("create upload dir: %w", err)
	}
	dest := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.api.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return session.FileUpload{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return session.FileUpload{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session.FileUpload{}, fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return session.FileUpload{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, c.cfg.MaxUploadBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return session.FileUpload{}, fmt.Errorf("write %s: %w", name, err)
	}
	if n > c.cfg.MaxUploadBytes {
		return session.FileUpload{}, fmt.Errorf("download: file exceeds %d bytes", c.cfg.MaxUploadBytes)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return session.FileUpload{}, fmt.Errorf("store %s: %w", name, err)
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	return session.FileUpload{Name: name, Locator: source.Local(abs)}, nil
}

// uploadName reduces a client-supplied file name to a safe base name.
func uploadName(fileName, fallback string) string {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "." || name == "/" || name == ".." || strings.HasPrefix(name, ".") {
		name = strings.TrimLeft(name, "./")
	}
	if name == "" {
		name = fallback
	}
	if name == "" {
		name = "upload.txt"
	}
	return name
}
