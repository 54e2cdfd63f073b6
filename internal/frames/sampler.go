package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder for image.Decode
	"log"
	"sort"
	"time"
)

// Strategy selects how frames are extracted from a motion window
type Strategy string

const (
	StrategyUniform  Strategy = "uniform"
	StrategyAdaptive Strategy = "adaptive"
	StrategyHybrid   Strategy = "hybrid"
)

// ParseStrategy converts a configuration string into a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyUniform, StrategyAdaptive, StrategyHybrid:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown sampling strategy %q", s)
	}
}

// ErrNoFrames indicates no frames could be captured from the window
var ErrNoFrames = errors.New("no frames captured from window")

// Sampler extracts a bounded set of representative stills from a
// motion window
type Sampler struct {
	fetcher             Fetcher
	similarityThreshold float64
}

// NewSampler creates a sampler using the given snapshot fetcher.
// similarityThreshold is the consecutive-frame similarity above which
// adaptive sampling discards a frame (typically 0.95).
func NewSampler(fetcher Fetcher, similarityThreshold float64) *Sampler {
	if similarityThreshold <= 0 || similarityThreshold > 1 {
		similarityThreshold = 0.95
	}
	return &Sampler{
		fetcher:             fetcher,
		similarityThreshold: similarityThreshold,
	}
}

// Sample extracts up to targetCount frames from the window using the
// given strategy. Adaptive and hybrid fall back toward uniform
// selection when the window is nearly static, so the result never
// holds fewer frames than captured coverage allows.
func (s *Sampler) Sample(ctx context.Context, window Window, targetCount int, strategy Strategy) (*FrameSet, error) {
	if targetCount < 1 {
		return nil, fmt.Errorf("target count must be positive, got %d", targetCount)
	}

	var captureCount int
	switch strategy {
	case StrategyUniform:
		captureCount = targetCount
	case StrategyAdaptive:
		captureCount = targetCount * 2
	case StrategyHybrid:
		captureCount = targetCount * 3
	default:
		return nil, fmt.Errorf("unknown sampling strategy %q", strategy)
	}

	captured, err := s.capture(ctx, window, captureCount)
	if err != nil {
		return nil, err
	}

	var selected []Frame
	if strategy == StrategyUniform {
		selected = captured
		for i := range selected {
			selected[i].Score = 1.0
		}
	} else {
		selected = SelectAdaptive(captured, targetCount, s.similarityThreshold)
	}

	for i := range selected {
		selected[i].Index = i
	}

	return &FrameSet{
		SourceUUID: window.SourceUUID,
		Frames:     selected,
	}, nil
}

// capture fetches count snapshots spread across the window. A fetch
// that times out is retried once; a frame that still fails is skipped.
func (s *Sampler) capture(ctx context.Context, window Window, count int) ([]Frame, error) {
	interval := window.Duration / time.Duration(count)
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	frames := make([]Frame, 0, count)
	for i := 0; i < count; i++ {
		data, err := s.fetcher.Fetch(ctx, window.SourceUUID, window.SnapshotURL)
		if err != nil && errors.Is(err, ErrSnapshotTimeout) {
			data, err = s.fetcher.Fetch(ctx, window.SourceUUID, window.SnapshotURL)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("Sampler[%s]: frame %d skipped: %v", window.SourceUUID, i, err)
		} else {
			frames = append(frames, Frame{
				Index:     len(frames),
				Timestamp: time.Now(),
				Data:      data,
			})
		}

		if i < count-1 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

// SelectAdaptive filters a densely captured frame sequence down to
// target frames. Consecutive near-duplicates (similarity above the
// threshold) are discarded, survivors are ranked by motion x uniqueness
// and the winners are re-sorted chronologically. When filtering would
// starve the result below target, selection falls back to uniform
// spacing over the full capture.
func SelectAdaptive(captured []Frame, target int, similarityThreshold float64) []Frame {
	if len(captured) <= target {
		return captured
	}

	features := make([]*frameFeatures, len(captured))
	for i := range captured {
		features[i] = analyzeFrame(captured[i].Data)
	}

	type scored struct {
		frame Frame
		pos   int
		score float64
	}

	var candidates []scored
	for i := range captured {
		if features[i] == nil {
			continue // undecodable frame
		}

		similarity, motion := 0.0, 1.0
		if i > 0 && features[i-1] != nil {
			similarity = features[i-1].similarity(features[i])
			motion = features[i-1].motion(features[i])
		}
		if i > 0 && similarity > similarityThreshold {
			continue
		}

		uniqueness := 1.0 - similarity
		f := captured[i]
		f.Score = motion * uniqueness
		candidates = append(candidates, scored{frame: f, pos: i, score: f.Score})
	}

	if len(candidates) < target {
		// Nearly static window: similarity filtering starved the
		// result, fall back to uniform spacing
		return selectUniform(captured, target)
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	candidates = candidates[:target]
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].pos < candidates[b].pos
	})

	selected := make([]Frame, len(candidates))
	for i, c := range candidates {
		selected[i] = c.frame
	}
	return selected
}

// selectUniform picks target frames evenly spaced across the capture
func selectUniform(captured []Frame, target int) []Frame {
	if len(captured) <= target {
		return captured
	}
	selected := make([]Frame, 0, target)
	for i := 0; i < target; i++ {
		idx := i * len(captured) / target
		f := captured[idx]
		f.Score = 1.0
		selected = append(selected, f)
	}
	return selected
}

const (
	histogramBins = 32
	gridSize      = 8
)

// frameFeatures holds the coarse luma statistics used for similarity
// and motion scoring
type frameFeatures struct {
	histogram [histogramBins]float64
	grid      [gridSize * gridSize]float64
}

// analyzeFrame decodes a JPEG frame into luma features. Returns nil
// when the frame cannot be decoded.
func analyzeFrame(data []byte) *frameFeatures {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	f := &frameFeatures{}
	var gridCounts [gridSize * gridSize]float64
	total := 0.0

	// Sample a coarse pixel grid; full-resolution scans buy nothing at
	// this granularity
	stepX, stepY := width/64, height/64
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			luma := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0

			bin := int(luma * float64(histogramBins))
			if bin >= histogramBins {
				bin = histogramBins - 1
			}
			f.histogram[bin]++
			total++

			gx := (x - bounds.Min.X) * gridSize / width
			gy := (y - bounds.Min.Y) * gridSize / height
			if gx >= gridSize {
				gx = gridSize - 1
			}
			if gy >= gridSize {
				gy = gridSize - 1
			}
			cell := gy*gridSize + gx
			f.grid[cell] += luma
			gridCounts[cell]++
		}
	}

	if total == 0 {
		return nil
	}
	for i := range f.histogram {
		f.histogram[i] /= total
	}
	for i := range f.grid {
		if gridCounts[i] > 0 {
			f.grid[i] /= gridCounts[i]
		}
	}
	return f
}

// similarity is the histogram intersection of two frames, in [0,1]
func (f *frameFeatures) similarity(other *frameFeatures) float64 {
	sum := 0.0
	for i := range f.histogram {
		if f.histogram[i] < other.histogram[i] {
			sum += f.histogram[i]
		} else {
			sum += other.histogram[i]
		}
	}
	return sum
}

// motion is the mean absolute luma difference across the coarse grid,
// in [0,1]
func (f *frameFeatures) motion(other *frameFeatures) float64 {
	sum := 0.0
	for i := range f.grid {
		d := f.grid[i] - other.grid[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(f.grid))
}
