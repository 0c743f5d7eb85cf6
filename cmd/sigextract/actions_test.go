package main

import (
	"bytes"
	"context"
	"encoding/json"
	stdimage "image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/toricodesthings/signature-extraction-service/internal/analysis"
	"github.com/toricodesthings/signature-extraction-service/internal/config"
	"github.com/toricodesthings/signature-extraction-service/internal/extract"
	"github.com/toricodesthings/signature-extraction-service/internal/geometry"
	"github.com/toricodesthings/signature-extraction-service/internal/logger"
)

type fakeAnalyzer struct {
	detections []analysis.Detection
}

func (f fakeAnalyzer) Analyze(context.Context, []byte, analysis.FeatureSet) ([]analysis.Detection, error) {
	return f.detections, nil
}

func useAnalyzer(t *testing.T, ds ...analysis.Detection) {
	t.Helper()
	logger.Init(logger.Options{Level: "disabled", Writer: io.Discard})
	t.Setenv("CONFIG_FILE", "")
	prev := newAnalyzer
	newAnalyzer = func(context.Context, config.Config) (extract.Analyzer, error) {
		return fakeAnalyzer{detections: ds}, nil
	}
	t.Cleanup(func() { newAnalyzer = prev })
}

func writeFixture(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, stdimage.NewGray(stdimage.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"sigextract"}, args...))
	return out.String(), err
}

func TestSignaturesCommand(t *testing.T) {
	useAnalyzer(t, analysis.Signature(geometry.NormalizedBox{Left: 0.1, Top: 0.1, Width: 0.2, Height: 0.05}))
	tmp := t.TempDir()
	src := writeFixture(t, tmp, "doc1.png", 1000, 2000)
	out := filepath.Join(tmp, "out")

	stdout, err := run(t, "signatures", "--output-dir", out, "--base-url", "https://files.example.com", src)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var got signaturesOutput
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	want := "https://files.example.com/extracted_data/extracted_signature_doc1_1.png"
	if len(got.Signatures) != 1 || got.Signatures[0] != want {
		t.Fatalf("expected %s, got %v", want, got.Signatures)
	}
	if _, err := os.Stat(filepath.Join(out, "extracted_signature_doc1_1.png")); err != nil {
		t.Fatalf("expected crop on disk: %v", err)
	}
}

func TestTextCommand(t *testing.T) {
	useAnalyzer(t, analysis.TextLine("A"), analysis.TextLine("B"), analysis.TextLine("C"))
	tmp := t.TempDir()
	src := writeFixture(t, tmp, "doc2.png", 10, 10)
	out := filepath.Join(tmp, "out")

	stdout, err := run(t, "text", "-o", out, src)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var got textOutput
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if strings.Join(got.Data, "") != "ABC" || filepath.Base(got.Path) != "extracted_text_doc2.txt" {
		t.Fatalf("unexpected output %+v", got)
	}
}

func TestCommandRequiresFiles(t *testing.T) {
	useAnalyzer(t)
	if _, err := run(t, "text", "-o", t.TempDir()); err == nil {
		t.Fatalf("expected error without FILE arguments")
	}
}
