// Package media deletes the remote media objects attached to random-chat
// messages. Deletion is best effort: failures are reported to the caller,
// which logs them and carries on with cleanup.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/logger"
)

// Config locates the object store holding chat media.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Workers         int           // concurrent deletions per cleanup
	Timeout         time.Duration // per-object delete timeout
}

// DefaultConfig returns the local development MinIO.
func DefaultConfig() Config {
	return Config{
		Endpoint: "localhost:9000",
		Bucket:   "chat-media",
		Workers:  8,
		Timeout:  5 * time.Second,
	}
}

// Remover deletes one remote object by its public id.
type Remover interface {
	Remove(ctx context.Context, publicID string) error
}

// MinIORemover deletes objects from a MinIO or S3 bucket. Calls go through a
// circuit breaker so an unreachable object store fails fast instead of
// stalling every session teardown.
type MinIORemover struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewMinIORemover builds a remover for cfg.Bucket.
func NewMinIORemover(cfg Config, log *zap.Logger) (*MinIORemover, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("media: minio endpoint is empty")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("media: minio bucket is empty")
	}
	log = logger.OrNop(log)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("media: create minio client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "media-delete",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &MinIORemover{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: timeout,
		breaker: breaker,
	}, nil
}

// Remove deletes the object named publicID. Removing an object that does not
// exist succeeds.
func (r *MinIORemover) Remove(ctx context.Context, publicID string) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return nil, r.client.RemoveObject(ctx, r.bucket, publicID, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("media: remove %s: %w", publicID, err)
	}
	return nil
}
