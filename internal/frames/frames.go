package frames

import "time"

// Frame is one extracted still image with its relevance score
type Frame struct {
	Index     int
	Timestamp time.Time
	Data      []byte // JPEG bytes
	Score     float64
}

// FrameSet is the ordered sequence of frames tied to one detection
// trigger. It exists only during processing; the optional archive
// uploads a copy for later inspection.
type FrameSet struct {
	SourceUUID string
	Frames     []Frame
}

// Window describes the motion window to sample from
type Window struct {
	SourceUUID  string
	SnapshotURL string
	Start       time.Time
	Duration    time.Duration
}
