package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/toricodesthings/signature-extraction-service/internal/geometry"
	"github.com/toricodesthings/signature-extraction-service/internal/logger"
)

// textractAPI is the subset of the Textract client used here.
type textractAPI interface {
	AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

type Options struct {
	Region  string
	Timeout time.Duration
	Limiter *Limiter
}

// Textract runs document analysis through AWS Textract.
type Textract struct {
	client  textractAPI
	timeout time.Duration
	limiter *Limiter
}

// NewTextract loads AWS credentials from the default chain and returns a
// ready analyzer.
func NewTextract(ctx context.Context, opts Options) (*Textract, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewTextractWithClient(textract.NewFromConfig(cfg), opts), nil
}

// NewTextractWithClient wraps an existing client.
func NewTextractWithClient(client textractAPI, opts Options) *Textract {
	return &Textract{client: client, timeout: opts.Timeout, limiter: opts.Limiter}
}

// Analyze submits the image bytes and returns the classified detections for
// the requested feature set, in response order.
func (t *Textract) Analyze(ctx context.Context, data []byte, features FeatureSet) ([]Detection, error) {
	if len(data) == 0 {
		return nil, &AnalysisError{Op: "analyze", Err: errors.New("empty document")}
	}

	log := logger.C(ctx).With().Str("component", "analysis").Str("features", features.String()).Logger()
	start := time.Now()

	var blocks []types.Block
	op := "AnalyzeDocument"
	if features == TextOnly {
		op = "DetectDocumentText"
	}

	err := t.limiter.Do(ctx, func() error {
		callCtx := ctx
		if t.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, t.timeout)
			defer cancel()
		}

		doc := &types.Document{Bytes: data}
		switch features {
		case SignaturesAndForms:
			out, err := t.client.AnalyzeDocument(callCtx, &textract.AnalyzeDocumentInput{
				Document:     doc,
				FeatureTypes: []types.FeatureType{types.FeatureTypeSignatures, types.FeatureTypeForms},
			})
			if err != nil {
				return err
			}
			if out == nil {
				return errors.New("empty response")
			}
			blocks = out.Blocks
		case TextOnly:
			out, err := t.client.DetectDocumentText(callCtx, &textract.DetectDocumentTextInput{Document: doc})
			if err != nil {
				return err
			}
			if out == nil {
				return errors.New("empty response")
			}
			blocks = out.Blocks
		default:
			return fmt.Errorf("unknown feature set %s", features)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("op", op).Dur("elapsed", time.Since(start)).Msg("analysis failed")
		return nil, &AnalysisError{Op: op, Err: err}
	}

	detections := Classify(blocks, features)
	log.Debug().
		Str("op", op).
		Int("blocks", len(blocks)).
		Int("detections", len(detections)).
		Dur("elapsed", time.Since(start)).
		Msg("analysis complete")
	return detections, nil
}

// Classify turns raw Textract blocks into detections. Blocks of kinds not
// covered by features are dropped; order follows the response.
func Classify(blocks []types.Block, features FeatureSet) []Detection {
	byID := make(map[string]*types.Block, len(blocks))
	for i := range blocks {
		if id := aws.ToString(blocks[i].Id); id != "" {
			byID[id] = &blocks[i]
		}
	}

	var out []Detection
	for i := range blocks {
		b := &blocks[i]
		switch {
		case features == SignaturesAndForms && b.BlockType == types.BlockTypeSignature:
			d := Signature(boxOf(b))
			d.BlockID = aws.ToString(b.Id)
			d.Confidence = float64(aws.ToFloat32(b.Confidence))
			out = append(out, d)

		case features == SignaturesAndForms && b.BlockType == types.BlockTypeKeyValueSet && hasEntity(b, types.EntityTypeKey):
			out = append(out, KeyValue(resolveKeyValue(b, byID)))

		case features == TextOnly && b.BlockType == types.BlockTypeLine:
			d := TextLine(aws.ToString(b.Text))
			d.BlockID = aws.ToString(b.Id)
			d.Confidence = float64(aws.ToFloat32(b.Confidence))
			out = append(out, d)
		}
	}
	return out
}

func boxOf(b *types.Block) geometry.NormalizedBox {
	if b.Geometry == nil || b.Geometry.BoundingBox == nil {
		return geometry.NormalizedBox{}
	}
	bb := b.Geometry.BoundingBox
	return geometry.NormalizedBox{
		Left:   float64(bb.Left),
		Top:    float64(bb.Top),
		Width:  float64(bb.Width),
		Height: float64(bb.Height),
	}
}

func hasEntity(b *types.Block, want types.EntityType) bool {
	for _, et := range b.EntityTypes {
		if et == want {
			return true
		}
	}
	return false
}

func resolveKeyValue(key *types.Block, byID map[string]*types.Block) KeyValueEntry {
	e := KeyValueEntry{
		BlockID:    aws.ToString(key.Id),
		Key:        childText(key, byID),
		Confidence: float64(aws.ToFloat32(key.Confidence)),
		Box:        boxOf(key),
	}
	for _, rel := range key.Relationships {
		if rel.Type != types.RelationshipTypeValue {
			continue
		}
		for _, id := range rel.Ids {
			if v, ok := byID[id]; ok {
				e.Value = joinNonEmpty(e.Value, childText(v, byID))
			}
		}
	}
	return e
}

// childText concatenates the WORD and SELECTION_ELEMENT children of b.
func childText(b *types.Block, byID map[string]*types.Block) string {
	var s string
	for _, rel := range b.Relationships {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			c, ok := byID[id]
			if !ok {
				continue
			}
			switch c.BlockType {
			case types.BlockTypeWord:
				s = joinNonEmpty(s, aws.ToString(c.Text))
			case types.BlockTypeSelectionElement:
				mark := "[ ]"
				if c.SelectionStatus == types.SelectionStatusSelected {
					mark = "[X]"
				}
				s = joinNonEmpty(s, mark)
			}
		}
	}
	return s
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
