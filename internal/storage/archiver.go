package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vigilo/vigilo/internal/config"
	"github.com/vigilo/vigilo/internal/frames"
)

// FrameArchiver uploads sampled frame sets to S3-compatible storage so
// an event's stills can be inspected later. Archiving is optional and
// best-effort; the pipeline does not depend on it.
type FrameArchiver struct {
	client *minio.Client
	bucket string
}

// NewFrameArchiver creates an archiver from configuration
func NewFrameArchiver(cfg config.ArchiveConfig) (*FrameArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}

	return &FrameArchiver{client: client, bucket: cfg.Bucket}, nil
}

// ArchiveFrames uploads every frame of the set under the event's
// prefix
func (a *FrameArchiver) ArchiveFrames(ctx context.Context, eventUUID string, frameSet *frames.FrameSet) error {
	for _, frame := range frameSet.Frames {
		objectPath := fmt.Sprintf("events/%s/frame-%03d.jpg", eventUUID, frame.Index)
		_, err := a.client.PutObject(
			ctx,
			a.bucket,
			objectPath,
			bytes.NewReader(frame.Data),
			int64(len(frame.Data)),
			minio.PutObjectOptions{
				ContentType: "image/jpeg",
			},
		)
		if err != nil {
			return fmt.Errorf("failed to archive frame %d of event %s: %w", frame.Index, eventUUID, err)
		}
	}
	return nil
}
