package extract

import (
	"github.com/toricodesthings/signature-extraction-service/internal/analysis"
	"github.com/toricodesthings/signature-extraction-service/internal/geometry"
	"github.com/toricodesthings/signature-extraction-service/internal/image"
)

// Signature is one written crop.
type Signature struct {
	Ordinal int                `json:"ordinal"`
	Rect    geometry.PixelRect `json:"rect"`
	Path    string             `json:"path"`
}

// Rejection is a signature detection dropped by geometry validation.
// Index is the detection's 0-based position among signature detections.
type Rejection struct {
	Index  int                    `json:"index"`
	Box    geometry.NormalizedBox `json:"box"`
	Rect   geometry.PixelRect     `json:"rect"`
	Reason string                 `json:"reason"`
}

// Failure is an accepted signature whose crop could not be written.
type Failure struct {
	Ordinal int                `json:"ordinal"`
	Rect    geometry.PixelRect `json:"rect"`
	Path    string             `json:"path"`
	Error   string             `json:"error"`
}

// SignatureResult is the outcome of one ExtractSignatures call. Signatures
// and Failed together cover every accepted detection, in ordinal order.
type SignatureResult struct {
	BaseName    string                   `json:"baseName"`
	Image       image.Metadata           `json:"image"`
	Detected    int                      `json:"detected"`
	Signatures  []Signature              `json:"signatures"`
	Rejected    []Rejection              `json:"rejected,omitempty"`
	Failed      []Failure                `json:"failed,omitempty"`
	Forms       []analysis.KeyValueEntry `json:"forms,omitempty"`
	FormsReport string                   `json:"formsReport,omitempty"`
}

// Accepted counts detections that passed geometry validation.
func (r SignatureResult) Accepted() int { return len(r.Signatures) + len(r.Failed) }

// Paths returns the written crop paths in ordinal order.
func (r SignatureResult) Paths() []string {
	out := make([]string, 0, len(r.Signatures))
	for _, s := range r.Signatures {
		out = append(out, s.Path)
	}
	return out
}

// TextResult is the outcome of one ExtractText call. Path is empty when no
// lines were found.
type TextResult struct {
	BaseName string   `json:"baseName"`
	Lines    []string `json:"lines"`
	Path     string   `json:"path,omitempty"`
}

// SignResponse is the client-facing body for a signature extraction.
type SignResponse struct {
	Message    string   `json:"message"`
	Signatures []string `json:"signatures"`
	Detected   int      `json:"detected"`
	Accepted   int      `json:"accepted"`
	Rejected   int      `json:"rejected"`
	Failed     int      `json:"failed"`
}

// DataResponse is the client-facing body for a text extraction.
type DataResponse struct {
	Message string   `json:"message"`
	Data    []string `json:"data"`
}

// NewSignResponse pairs a result with the URLs of its written crops.
func NewSignResponse(r SignatureResult, urls []string) SignResponse {
	if urls == nil {
		urls = []string{}
	}
	return SignResponse{
		Message:    "Signatures extracted successfully",
		Signatures: urls,
		Detected:   r.Detected,
		Accepted:   r.Accepted(),
		Rejected:   len(r.Rejected),
		Failed:     len(r.Failed),
	}
}

func NewDataResponse(r TextResult) DataResponse {
	lines := r.Lines
	if lines == nil {
		lines = []string{}
	}
	return DataResponse{Message: "Image processed successfully", Data: lines}
}
