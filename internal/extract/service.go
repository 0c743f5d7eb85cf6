package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toricodesthings/signature-extraction-service/internal/analysis"
	"github.com/toricodesthings/signature-extraction-service/internal/geometry"
	"github.com/toricodesthings/signature-extraction-service/internal/image"
	"github.com/toricodesthings/signature-extraction-service/internal/logger"
)

// Analyzer runs remote document analysis on raw image bytes.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte, features analysis.FeatureSet) ([]analysis.Detection, error)
}

// Cropper writes the rectangle r of the encoded image data to dst.
type Cropper interface {
	Crop(ctx context.Context, data []byte, r geometry.PixelRect, dst string) error
}

type Options struct {
	OutputDir   string
	CropWorkers int
	FormsReport bool
}

// Service drives signature and text extraction for staged files.
type Service struct {
	analyzer Analyzer
	cropper  Cropper
	out      OutputDir
	workers  int
	forms    bool
}

func New(a Analyzer, c Cropper, opts Options) *Service {
	workers := opts.CropWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		analyzer: a,
		cropper:  c,
		out:      OutputDir(opts.OutputDir),
		workers:  workers,
		forms:    opts.FormsReport,
	}
}

// Output returns the directory results are written to.
func (s *Service) Output() OutputDir { return s.out }

type acceptedCrop struct {
	ordinal int
	rect    geometry.PixelRect
	path    string
}

// ExtractSignatures crops every valid signature detection in the image at
// filePath into the output directory. Invalid geometry and individual crop
// failures are recorded in the result; decode and analysis failures abort.
func (s *Service) ExtractSignatures(ctx context.Context, filePath string) (SignatureResult, error) {
	log := logger.C(ctx).With().Str("component", "extract").Str("op", "signatures").Logger()
	start := time.Now()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("read %s: %w", filePath, err)
	}
	meta, err := image.ReadMetadata(data)
	if err != nil {
		return SignatureResult{}, err
	}

	res := SignatureResult{BaseName: BaseName(filePath), Image: meta}

	if err := s.out.Ensure(); err != nil {
		return SignatureResult{}, err
	}

	detections, err := s.analyzer.Analyze(ctx, data, analysis.SignaturesAndForms)
	if err != nil {
		return SignatureResult{}, err
	}

	var accepted []acceptedCrop
	for _, d := range detections {
		switch d.Kind {
		case analysis.KindSignature:
			idx := res.Detected
			res.Detected++

			rect, err := geometry.Map(d.Box, meta.Width, meta.Height)
			if err != nil {
				reason := err.Error()
				var re *geometry.RejectedError
				if errors.As(err, &re) {
					reason = re.Reason
				}
				res.Rejected = append(res.Rejected, Rejection{Index: idx, Box: d.Box, Rect: rect, Reason: reason})
				log.Warn().
					Int("index", idx).
					Interface("box", d.Box).
					Str("rect", rect.String()).
					Str("reason", reason).
					Msg("signature geometry rejected")
				continue
			}

			ordinal := len(accepted) + 1
			accepted = append(accepted, acceptedCrop{
				ordinal: ordinal,
				rect:    rect,
				path:    s.out.Join(SignatureFileName(res.BaseName, ordinal)),
			})

		case analysis.KindKeyValue:
			if d.KeyValue != nil {
				res.Forms = append(res.Forms, *d.KeyValue)
			}
		}
	}

	errs := s.emitCrops(ctx, data, accepted)
	if err := ctx.Err(); err != nil {
		return SignatureResult{}, err
	}
	for i, c := range accepted {
		if errs[i] != nil {
			res.Failed = append(res.Failed, Failure{Ordinal: c.ordinal, Rect: c.rect, Path: c.path, Error: errs[i].Error()})
			log.Warn().Err(errs[i]).Int("ordinal", c.ordinal).Str("rect", c.rect.String()).Msg("signature crop failed")
			continue
		}
		res.Signatures = append(res.Signatures, Signature{Ordinal: c.ordinal, Rect: c.rect, Path: c.path})
	}

	if s.forms && len(res.Forms) > 0 {
		p := s.out.Join(FormsFileName(res.BaseName))
		if err := WriteFormsReport(p, res.Forms); err != nil {
			log.Warn().Err(err).Msg("forms report failed")
		} else {
			res.FormsReport = p
		}
	}

	log.Info().
		Str("file", res.BaseName).
		Int("detected", res.Detected).
		Int("accepted", res.Accepted()).
		Int("rejected", len(res.Rejected)).
		Int("failed", len(res.Failed)).
		Int("forms", len(res.Forms)).
		Dur("elapsed", time.Since(start)).
		Msg("signatures extracted")
	return res, nil
}

// emitCrops writes accepted crops in parallel. The returned slice is indexed
// like crops; a nil entry means the file was written.
func (s *Service) emitCrops(ctx context.Context, data []byte, crops []acceptedCrop) []error {
	errs := make([]error, len(crops))
	if len(crops) == 0 {
		return errs
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, c := range crops {
		i, c := i, c
		g.Go(func() error {
			errs[i] = s.cropper.Crop(ctx, data, c.rect, c.path)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// ExtractText writes the text lines found in the image at filePath to
// extracted_text_{base}.txt. No file is written when there are no lines.
func (s *Service) ExtractText(ctx context.Context, filePath string) (TextResult, error) {
	log := logger.C(ctx).With().Str("component", "extract").Str("op", "text").Logger()
	start := time.Now()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return TextResult{}, fmt.Errorf("read %s: %w", filePath, err)
	}

	res := TextResult{BaseName: BaseName(filePath), Lines: []string{}}

	if err := s.out.Ensure(); err != nil {
		return TextResult{}, err
	}

	detections, err := s.analyzer.Analyze(ctx, data, analysis.TextOnly)
	if err != nil {
		return TextResult{}, err
	}
	for _, d := range detections {
		if d.Kind == analysis.KindTextLine {
			res.Lines = append(res.Lines, d.Text)
		}
	}

	if len(res.Lines) == 0 {
		log.Info().Str("file", res.BaseName).Msg("no text lines found")
		return res, nil
	}

	p := s.out.Join(TextFileName(res.BaseName))
	if err := os.WriteFile(p, []byte(strings.Join(res.Lines, "\n")), 0o644); err != nil {
		return TextResult{}, fmt.Errorf("write %s: %w", p, err)
	}
	res.Path = p

	log.Info().
		Str("file", res.BaseName).
		Int("lines", len(res.Lines)).
		Dur("elapsed", time.Since(start)).
		Msg("text extracted")
	return res, nil
}
