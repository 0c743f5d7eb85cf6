package extract

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// OutputDir is the process-wide directory crops and text files are written
// to. Ensure is safe to call concurrently and repeatedly.
type OutputDir string

func (d OutputDir) Ensure() error {
	if err := os.MkdirAll(string(d), 0o755); err != nil {
		return fmt.Errorf("output dir %s: %w", string(d), err)
	}
	return nil
}

func (d OutputDir) Join(name string) string {
	return filepath.Join(string(d), name)
}

// BaseName strips directory and extension from path.
func BaseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

func SignatureFileName(base string, ordinal int) string {
	return fmt.Sprintf("extracted_signature_%s_%d.png", base, ordinal)
}

func TextFileName(base string) string {
	return fmt.Sprintf("extracted_text_%s.txt", base)
}

func FormsFileName(base string) string {
	return fmt.Sprintf("extracted_forms_%s.xlsx", base)
}

// URLs maps output file paths to public URLs under origin and publicPath,
// preserving order.
func URLs(origin, publicPath string, paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		u, err := url.JoinPath(origin, publicPath, filepath.Base(p))
		if err != nil {
			return nil, fmt.Errorf("public url for %s: %w", p, err)
		}
		out = append(out, u)
	}
	return out, nil
}
