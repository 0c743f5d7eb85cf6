package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrTooLarge is returned when the body exceeds the configured limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// ErrEmpty is returned for a zero-byte body.
var ErrEmpty = errors.New("upload is empty")

// UnsupportedTypeError reports a body whose sniffed type is not an accepted
// raster format.
type UnsupportedTypeError struct {
	MIMEType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported media type %q", e.MIMEType)
}

// Accepted lists the MIME types the analysis backend can process
// synchronously.
var Accepted = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/tiff": ".tiff",
}

// Staged is an upload written to disk.
type Staged struct {
	Path     string
	MIMEType string
	Size     int64
}

func (s Staged) Cleanup() {
	if s.Path != "" {
		_ = os.Remove(s.Path)
	}
}

// Save writes body into dir as image-<unixms>-<uuid><ext>, creating dir if
// needed. Nothing is left on disk when an error is returned.
func Save(body io.Reader, dir, originalName string, maxBytes int64) (Staged, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Staged{}, fmt.Errorf("upload dir: %w", err)
	}

	outPath := filepath.Join(dir, StagedName(originalName, time.Now()))
	f, err := os.Create(outPath)
	if err != nil {
		return Staged{}, fmt.Errorf("create: %w", err)
	}

	fail := func(err error) (Staged, error) {
		_ = f.Close()
		_ = os.Remove(outPath)
		return Staged{}, err
	}

	var r io.Reader = body
	if maxBytes > 0 {
		r = &io.LimitedReader{R: body, N: maxBytes + 1}
	}
	n, err := io.Copy(f, r)
	if err != nil {
		return fail(fmt.Errorf("write: %w", err))
	}
	if maxBytes > 0 && n > maxBytes {
		return fail(fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, maxBytes))
	}
	if n == 0 {
		return fail(ErrEmpty)
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("sync: %w", err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(outPath)
		return Staged{}, fmt.Errorf("close: %w", err)
	}

	mt := sniffMIMEType(outPath)
	if _, ok := Accepted[mt]; !ok {
		_ = os.Remove(outPath)
		return Staged{}, &UnsupportedTypeError{MIMEType: mt}
	}

	return Staged{Path: outPath, MIMEType: mt, Size: n}, nil
}

// StagedName builds a collision-free file name, keeping the lowercased
// extension of originalName.
func StagedName(originalName string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(strings.TrimSpace(originalName))))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return fmt.Sprintf("image-%d-%s%s", now.UnixMilli(), uuid.NewString(), ext)
}

func sniffMIMEType(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil || m == nil {
		return ""
	}
	mt := strings.ToLower(strings.TrimSpace(m.String()))
	if i := strings.Index(mt, ";"); i > 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
