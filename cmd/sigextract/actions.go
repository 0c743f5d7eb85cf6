package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/toricodesthings/signature-extraction-service/internal/analysis"
	"github.com/toricodesthings/signature-extraction-service/internal/config"
	"github.com/toricodesthings/signature-extraction-service/internal/extract"
	"github.com/toricodesthings/signature-extraction-service/internal/image"
)

// newAnalyzer is replaced in tests.
var newAnalyzer = func(ctx context.Context, cfg config.Config) (extract.Analyzer, error) {
	t, err := analysis.NewTextract(ctx, analysis.Options{
		Region:  cfg.AWSRegion,
		Timeout: cfg.AnalysisTimeout,
		Limiter: analysis.NewLimiter(cfg.MaxAnalysisConcurrent, cfg.AnalysisRatePerSec),
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

type signaturesOutput struct {
	File string `json:"file"`
	extract.SignResponse
	Forms       []analysis.KeyValueEntry `json:"forms,omitempty"`
	FormsReport string                   `json:"formsReport,omitempty"`
}

type textOutput struct {
	File string `json:"file"`
	Path string `json:"path,omitempty"`
	extract.DataResponse
}

func SignaturesAction(c *cli.Context) error {
	cfg, svc, err := setup(c, c.Bool("forms"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	for _, file := range c.Args().Slice() {
		res, err := svc.ExtractSignatures(c.Context, file)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}

		refs := res.Paths()
		if base := c.String("base-url"); base != "" {
			if refs, err = extract.URLs(base, cfg.PublicPath, refs); err != nil {
				return err
			}
		}

		out := signaturesOutput{
			File:         file,
			SignResponse: extract.NewSignResponse(res, refs),
			Forms:        res.Forms,
			FormsReport:  res.FormsReport,
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

func TextAction(c *cli.Context) error {
	_, svc, err := setup(c, false)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	for _, file := range c.Args().Slice() {
		res, err := svc.ExtractText(c.Context, file)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if err := enc.Encode(textOutput{File: file, Path: res.Path, DataResponse: extract.NewDataResponse(res)}); err != nil {
			return err
		}
	}
	return nil
}

func setup(c *cli.Context, forms bool) (config.Config, *extract.Service, error) {
	if c.NArg() == 0 {
		return config.Config{}, nil, cli.Exit("at least one FILE is required", 2)
	}

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if dir := c.String("output-dir"); dir != "" {
		cfg.OutputDir = dir
	}

	out := extract.OutputDir(cfg.OutputDir)
	if err := out.Ensure(); err != nil {
		return config.Config{}, nil, err
	}

	an, err := newAnalyzer(c.Context, cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	svc := extract.New(an, image.PNGCropper{}, extract.Options{
		OutputDir:   cfg.OutputDir,
		CropWorkers: cfg.CropWorkers,
		FormsReport: forms || cfg.FormsReport,
	})
	return cfg, svc, nil
}
