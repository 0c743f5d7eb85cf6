package analysis

import (
	"fmt"

	"github.com/toricodesthings/signature-extraction-service/internal/geometry"
)

// FeatureSet selects which remote analysis runs and which detections are kept.
type FeatureSet int

const (
	// SignaturesAndForms keeps signature regions and form key/value pairs.
	SignaturesAndForms FeatureSet = iota + 1
	// TextOnly keeps text lines.
	TextOnly
)

func (f FeatureSet) String() string {
	switch f {
	case SignaturesAndForms:
		return "signatures-and-forms"
	case TextOnly:
		return "text-only"
	default:
		return fmt.Sprintf("FeatureSet(%d)", int(f))
	}
}

// Kind tags the variant held by a Detection.
type Kind int

const (
	KindSignature Kind = iota + 1
	KindKeyValue
	KindTextLine
)

func (k Kind) String() string {
	switch k {
	case KindSignature:
		return "signature"
	case KindKeyValue:
		return "key-value"
	case KindTextLine:
		return "text-line"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Detection is one classified finding from the analysis response.
//
//   - KindSignature: Box is set.
//   - KindKeyValue:  KeyValue and Box are set.
//   - KindTextLine:  Text is set.
type Detection struct {
	Kind       Kind
	BlockID    string
	Confidence float64
	Box        geometry.NormalizedBox
	Text       string
	KeyValue   *KeyValueEntry
}

// KeyValueEntry is a form field resolved from a KEY block and its VALUE.
type KeyValueEntry struct {
	BlockID    string                 `json:"blockId"`
	Key        string                 `json:"key"`
	Value      string                 `json:"value"`
	Confidence float64                `json:"confidence"`
	Box        geometry.NormalizedBox `json:"box"`
}

// Signature builds a signature detection.
func Signature(box geometry.NormalizedBox) Detection {
	return Detection{Kind: KindSignature, Box: box}
}

// TextLine builds a text line detection.
func TextLine(text string) Detection {
	return Detection{Kind: KindTextLine, Text: text}
}

// KeyValue builds a form key/value detection.
func KeyValue(e KeyValueEntry) Detection {
	return Detection{Kind: KindKeyValue, BlockID: e.BlockID, Confidence: e.Confidence, Box: e.Box, KeyValue: &e}
}

// AnalysisError wraps a failure of the remote analysis capability.
type AnalysisError struct {
	Op  string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis %s: %v", e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
