package analysis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

type fakeTextract struct {
	mu       sync.Mutex
	analyze  *textract.AnalyzeDocumentInput
	detect   *textract.DetectDocumentTextInput
	blocks   []types.Block
	err      error
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeTextract) enter() {
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
}

func (f *fakeTextract) AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, _ ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	f.enter()
	defer f.inFlight.Add(-1)
	f.mu.Lock()
	f.analyze = in
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &textract.AnalyzeDocumentOutput{Blocks: f.blocks}, nil
}

func (f *fakeTextract) DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, _ ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	f.mu.Lock()
	f.detect = in
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &textract.DetectDocumentTextOutput{Blocks: f.blocks}, nil
}

func bbox(l, t, w, h float32) *types.Geometry {
	return &types.Geometry{BoundingBox: &types.BoundingBox{Left: l, Top: t, Width: w, Height: h}}
}

func TestAnalyzeSignaturesRequestsSignaturesAndForms(t *testing.T) {
	fake := &fakeTextract{blocks: []types.Block{
		{BlockType: types.BlockTypePage, Id: aws.String("p")},
		{BlockType: types.BlockTypeSignature, Id: aws.String("s1"), Geometry: bbox(0.1, 0.2, 0.2, 0.1), Confidence: aws.Float32(97)},
		{BlockType: types.BlockTypeLine, Id: aws.String("l1"), Text: aws.String("ignored")},
		{BlockType: types.BlockTypeSignature, Id: aws.String("s2"), Geometry: bbox(0.5, 0.5, 0.1, 0.1)},
	}}
	a := NewTextractWithClient(fake, Options{})

	ds, err := a.Analyze(context.Background(), []byte("img"), SignaturesAndForms)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if fake.analyze == nil {
		t.Fatalf("expected AnalyzeDocument to be called")
	}
	if string(fake.analyze.Document.Bytes) != "img" {
		t.Fatalf("expected document bytes to be forwarded")
	}
	ft := fake.analyze.FeatureTypes
	if len(ft) != 2 || ft[0] != types.FeatureTypeSignatures || ft[1] != types.FeatureTypeForms {
		t.Fatalf("unexpected feature types %v", ft)
	}

	if len(ds) != 2 {
		t.Fatalf("expected 2 signature detections, got %d", len(ds))
	}
	if ds[0].Kind != KindSignature || ds[0].BlockID != "s1" || ds[1].BlockID != "s2" {
		t.Fatalf("unexpected detections %+v", ds)
	}
	if d := ds[0].Box.Left - 0.1; d > 1e-6 || d < -1e-6 {
		t.Fatalf("expected left ~0.1, got %v", ds[0].Box.Left)
	}
	if ds[0].Confidence != 97 {
		t.Fatalf("expected confidence 97, got %v", ds[0].Confidence)
	}
}

func TestAnalyzeTextOnlyUsesDetectDocumentText(t *testing.T) {
	fake := &fakeTextract{blocks: []types.Block{
		{BlockType: types.BlockTypeLine, Id: aws.String("1"), Text: aws.String("A")},
		{BlockType: types.BlockTypeWord, Id: aws.String("w"), Text: aws.String("A")},
		{BlockType: types.BlockTypeLine, Id: aws.String("2"), Text: aws.String("B")},
		{BlockType: types.BlockTypeSignature, Id: aws.String("s"), Geometry: bbox(0, 0, 1, 1)},
		{BlockType: types.BlockTypeLine, Id: aws.String("3"), Text: aws.String("C")},
	}}
	a := NewTextractWithClient(fake, Options{})

	ds, err := a.Analyze(context.Background(), []byte("img"), TextOnly)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if fake.detect == nil || fake.analyze != nil {
		t.Fatalf("expected only DetectDocumentText to be called")
	}
	var got []string
	for _, d := range ds {
		if d.Kind != KindTextLine {
			t.Fatalf("unexpected kind %s", d.Kind)
		}
		got = append(got, d.Text)
	}
	if len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("expected [A B C], got %v", got)
	}
}

func TestAnalyzeWrapsClientError(t *testing.T) {
	boom := errors.New("throttled")
	a := NewTextractWithClient(&fakeTextract{err: boom}, Options{})

	_, err := a.Analyze(context.Background(), []byte("img"), SignaturesAndForms)
	var ae *AnalysisError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AnalysisError, got %v", err)
	}
	if ae.Op != "AnalyzeDocument" || !errors.Is(err, boom) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestAnalyzeRejectsEmptyDocument(t *testing.T) {
	a := NewTextractWithClient(&fakeTextract{}, Options{})
	_, err := a.Analyze(context.Background(), nil, TextOnly)
	var ae *AnalysisError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AnalysisError, got %v", err)
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	fake := &fakeTextract{delay: time.Second}
	a := NewTextractWithClient(fake, Options{Timeout: 20 * time.Millisecond})

	_, err := a.Analyze(context.Background(), []byte("img"), SignaturesAndForms)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAnalyzeHonoursConcurrencyLimit(t *testing.T) {
	fake := &fakeTextract{delay: 20 * time.Millisecond}
	a := NewTextractWithClient(fake, Options{Limiter: NewLimiter(2, 0)})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Analyze(context.Background(), []byte("img"), SignaturesAndForms); err != nil {
				t.Errorf("analyze: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := fake.peak.Load(); p > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", p)
	}
}

func TestClassifyResolvesKeyValuePairs(t *testing.T) {
	blocks := []types.Block{
		{
			BlockType:     types.BlockTypeKeyValueSet,
			Id:            aws.String("k1"),
			EntityTypes:   []types.EntityType{types.EntityTypeKey},
			Confidence:    aws.Float32(88),
			Geometry:      bbox(0.1, 0.1, 0.2, 0.05),
			Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: []string{"w1", "w2"}}, {Type: types.RelationshipTypeValue, Ids: []string{"v1"}}},
		},
		{
			BlockType:     types.BlockTypeKeyValueSet,
			Id:            aws.String("v1"),
			EntityTypes:   []types.EntityType{types.EntityTypeValue},
			Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: []string{"w3"}}},
		},
		{BlockType: types.BlockTypeWord, Id: aws.String("w1"), Text: aws.String("Full")},
		{BlockType: types.BlockTypeWord, Id: aws.String("w2"), Text: aws.String("Name:")},
		{BlockType: types.BlockTypeWord, Id: aws.String("w3"), Text: aws.String("Ada")},
		{
			BlockType:     types.BlockTypeKeyValueSet,
			Id:            aws.String("k2"),
			EntityTypes:   []types.EntityType{types.EntityTypeKey},
			Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: []string{"w4"}}, {Type: types.RelationshipTypeValue, Ids: []string{"v2"}}},
		},
		{
			BlockType:     types.BlockTypeKeyValueSet,
			Id:            aws.String("v2"),
			EntityTypes:   []types.EntityType{types.EntityTypeValue},
			Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: []string{"x1"}}},
		},
		{BlockType: types.BlockTypeWord, Id: aws.String("w4"), Text: aws.String("Agree")},
		{BlockType: types.BlockTypeSelectionElement, Id: aws.String("x1"), SelectionStatus: types.SelectionStatusSelected},
	}

	ds := Classify(blocks, SignaturesAndForms)
	if len(ds) != 2 {
		t.Fatalf("expected 2 key/value detections, got %d", len(ds))
	}
	kv := ds[0].KeyValue
	if ds[0].Kind != KindKeyValue || kv == nil {
		t.Fatalf("expected key-value detection, got %+v", ds[0])
	}
	if kv.Key != "Full Name:" || kv.Value != "Ada" || kv.BlockID != "k1" || kv.Confidence != 88 {
		t.Fatalf("unexpected entry %+v", kv)
	}
	if ds[1].KeyValue.Key != "Agree" || ds[1].KeyValue.Value != "[X]" {
		t.Fatalf("unexpected selection entry %+v", ds[1].KeyValue)
	}

	if got := Classify(blocks, TextOnly); len(got) != 0 {
		t.Fatalf("expected no detections for text-only, got %d", len(got))
	}
}

func TestClassifyMissingGeometry(t *testing.T) {
	ds := Classify([]types.Block{{BlockType: types.BlockTypeSignature, Id: aws.String("s")}}, SignaturesAndForms)
	if len(ds) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(ds))
	}
	if ds[0].Box.Width != 0 || ds[0].Box.Height != 0 {
		t.Fatalf("expected zero box, got %+v", ds[0].Box)
	}
}

func TestLimiterPacing(t *testing.T) {
	l := NewLimiter(0, 50)
	start := time.Now()
	for i := 0; i < 60; i++ {
		if err := l.Do(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("do: %v", err)
		}
	}
	// burst of 50 then 10 more at 50/s
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("expected pacing to slow the loop, took %s", elapsed)
	}
}

func TestLimiterCancelledWhileWaiting(t *testing.T) {
	l := NewLimiter(1, 0)
	hold := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), func() error { <-hold; return nil })
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func() error { return nil })
	close(hold)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNilLimiterRunsDirectly(t *testing.T) {
	var l *Limiter
	ran := false
	if err := l.Do(context.Background(), func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("expected fn to run, err=%v", err)
	}
}
