package frames

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"
)

// encodeFrame produces a small JPEG filled with the given gray level,
// optionally with a bright square to simulate a moving subject
func encodeFrame(t *testing.T, gray uint8, subjectX int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}
	if subjectX >= 0 {
		for y := 20; y < 44; y++ {
			for x := subjectX; x < subjectX+16 && x < 64; x++ {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test frame: %v", err)
	}
	return buf.Bytes()
}

// scriptedFetcher serves a fixed sequence of responses, cycling when
// exhausted
type scriptedFetcher struct {
	mu     sync.Mutex
	images [][]byte
	errs   []error
	calls  int
}

func (f *scriptedFetcher) Fetch(ctx context.Context, sourceUUID, snapshotURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if len(f.errs) > 0 && f.errs[i%len(f.errs)] != nil {
		return nil, f.errs[i%len(f.errs)]
	}
	if len(f.images) == 0 {
		return nil, errors.New("no images scripted")
	}
	return f.images[i%len(f.images)], nil
}

func testWindow() Window {
	return Window{
		SourceUUID:  "src-1",
		SnapshotURL: "http://cam-1/snapshot",
		Start:       time.Now(),
		Duration:    20 * time.Millisecond,
	}
}

func TestSampler_Sample_UniformReturnsTargetCount(t *testing.T) {
	fetcher := &scriptedFetcher{images: [][]byte{encodeFrame(t, 128, -1)}}
	sampler := NewSampler(fetcher, 0.95)

	set, err := sampler.Sample(context.Background(), testWindow(), 5, StrategyUniform)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if len(set.Frames) != 5 {
		t.Fatalf("got %d frames, want 5", len(set.Frames))
	}
	for i, f := range set.Frames {
		if f.Index != i {
			t.Errorf("frame %d has index %d", i, f.Index)
		}
		if f.Score != 1.0 {
			t.Errorf("uniform frame %d score = %f, want 1.0", i, f.Score)
		}
		if len(f.Data) == 0 {
			t.Errorf("frame %d has no data", i)
		}
	}
	if set.SourceUUID != "src-1" {
		t.Errorf("source = %s", set.SourceUUID)
	}
}

func TestSampler_Sample_StaticWindowFallsBackToUniform(t *testing.T) {
	// Every captured frame is identical; adaptive filtering would
	// starve the result, so uniform fallback must still yield the
	// full target count
	fetcher := &scriptedFetcher{images: [][]byte{encodeFrame(t, 100, -1)}}
	sampler := NewSampler(fetcher, 0.95)

	set, err := sampler.Sample(context.Background(), testWindow(), 10, StrategyAdaptive)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if len(set.Frames) != 10 {
		t.Fatalf("got %d frames, want exactly 10", len(set.Frames))
	}
}

func TestSampler_Sample_HybridPrefersMotion(t *testing.T) {
	// Alternate static background with a subject moving across the
	// frame; high-motion frames should dominate the selection
	images := [][]byte{
		encodeFrame(t, 100, -1),
		encodeFrame(t, 100, 0),
		encodeFrame(t, 100, 16),
		encodeFrame(t, 100, 32),
		encodeFrame(t, 100, 48),
		encodeFrame(t, 100, -1),
	}
	fetcher := &scriptedFetcher{images: images}
	sampler := NewSampler(fetcher, 0.95)

	set, err := sampler.Sample(context.Background(), testWindow(), 4, StrategyHybrid)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if len(set.Frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(set.Frames))
	}
	// Selection must stay chronological after re-indexing
	for i, f := range set.Frames {
		if f.Index != i {
			t.Errorf("frame %d has index %d", i, f.Index)
		}
	}
}

func TestSampler_Sample_RetriesTimeoutOnce(t *testing.T) {
	img := encodeFrame(t, 128, -1)
	fetcher := &scriptedFetcher{
		images: [][]byte{img},
		errs:   []error{ErrSnapshotTimeout, nil},
	}
	sampler := NewSampler(fetcher, 0.95)

	window := testWindow()
	window.Duration = 2 * time.Millisecond
	set, err := sampler.Sample(context.Background(), window, 1, StrategyUniform)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if len(set.Frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(set.Frames))
	}
	if fetcher.calls != 2 {
		t.Errorf("fetcher called %d times, want 2 (original + retry)", fetcher.calls)
	}
}

func TestSampler_Sample_AllFetchesFail(t *testing.T) {
	fetcher := &scriptedFetcher{errs: []error{errors.New("unreachable")}}
	sampler := NewSampler(fetcher, 0.95)

	_, err := sampler.Sample(context.Background(), testWindow(), 3, StrategyUniform)
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("Sample() error = %v, want ErrNoFrames", err)
	}
}

func TestSampler_Sample_InvalidStrategy(t *testing.T) {
	sampler := NewSampler(&scriptedFetcher{}, 0.95)
	if _, err := sampler.Sample(context.Background(), testWindow(), 3, Strategy("random")); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestParseStrategy(t *testing.T) {
	for _, valid := range []string{"uniform", "adaptive", "hybrid"} {
		if _, err := ParseStrategy(valid); err != nil {
			t.Errorf("ParseStrategy(%s) error = %v", valid, err)
		}
	}
	if _, err := ParseStrategy("bogus"); err == nil {
		t.Error("ParseStrategy(bogus) should fail")
	}
}

func TestSelectAdaptive_FewerCapturedThanTarget(t *testing.T) {
	captured := []Frame{{Index: 0}, {Index: 1}}
	selected := SelectAdaptive(captured, 5, 0.95)
	if len(selected) != 2 {
		t.Errorf("got %d frames, want all 2 captured", len(selected))
	}
}

func TestSelectUniform_Spacing(t *testing.T) {
	captured := make([]Frame, 100)
	for i := range captured {
		captured[i].Index = i
	}
	selected := selectUniform(captured, 10)
	if len(selected) != 10 {
		t.Fatalf("got %d frames, want 10", len(selected))
	}
	if selected[0].Index != 0 {
		t.Errorf("first frame index = %d, want 0", selected[0].Index)
	}
	if selected[9].Index != 90 {
		t.Errorf("last frame index = %d, want 90", selected[9].Index)
	}
}
