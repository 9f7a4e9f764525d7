// Package publish uploads run artifacts to S3 under a dated prefix.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Publisher uploads artifacts to s3://Bucket/Prefix/<date>/.
type Publisher struct {
	client Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New creates a Publisher.
func New(client Client, bucket, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Key returns the object key for a local file published for runDate.
func (p *Publisher) Key(runDate time.Time, localPath string) string {
	return path.Join(p.prefix, runDate.UTC().Format("2006-01-02"), filepath.Base(localPath))
}

// Publish uploads every file and returns the resulting S3 URIs. It stops at
// the first failed upload.
func (p *Publisher) Publish(ctx context.Context, runDate time.Time, files []string) ([]string, error) {
	log := p.logger.With("stage", "publish", "bucket", p.bucket)
	uris := make([]string, 0, len(files))

	for _, f := range files {
		key := p.Key(runDate, f)
		if err := p.client.UploadFile(ctx, p.bucket, key, f); err != nil {
			log.Error("upload failed", "file", f, "key", key, "error", err)
			return uris, fmt.Errorf("publishing %s: %w", filepath.Base(f), err)
		}
		uri := fmt.Sprintf("s3://%s/%s", p.bucket, key)
		uris = append(uris, uri)
		log.Info("artifact published", "uri", uri)
	}
	return uris, nil
}

func contentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
