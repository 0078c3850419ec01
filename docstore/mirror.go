package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// Mirror copies store writes to a Cloud Storage bucket. Uploads run in
// the background and never fail a local write; the local file stays the
// source of truth.
type Mirror struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
}

// NewMirror returns a Mirror targeting bucket.
func NewMirror(client *storage.Client, bucket string, logger *slog.Logger) *Mirror {
	return &Mirror{client: client, bucket: bucket, logger: logger}
}

// Upload writes data to object in the mirror bucket, retrying transient
// failures. Errors are logged, not returned.
func (m *Mirror) Upload(ctx context.Context, object string, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	err := retry.Do(
		func() error {
			w := m.client.Bucket(m.bucket).Object(object).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					m.logger.Warn("Failed to close mirror writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to mirror: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close mirror writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			m.logger.Info("Retrying mirror upload after error", "attempt", n, "object", object, "error", retryErr)
		}),
	)
	if err != nil {
		m.logger.Warn("Mirror upload failed", "object", object, "bucket", m.bucket, "error", err)
		return
	}
	m.logger.Debug("Mirror upload complete", "object", object, "bytes", len(data))
}
