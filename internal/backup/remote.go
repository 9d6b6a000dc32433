package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// RemoteConfig configures replication of backup archives to an
// S3-compatible bucket.
type RemoteConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	PathPrefix string `yaml:"path_prefix"`
}

// Replicator uploads successful backup archives to object storage.
// Replication is best effort: a failed upload never invalidates the
// local backup.
type Replicator struct {
	client     *minio.Client
	bucket     string
	pathPrefix string
}

// NewReplicator creates a replicator from the given remote configuration.
func NewReplicator(cfg RemoteConfig) (*Replicator, error) {
	endpoint := cfg.Endpoint
	secure := true
	if strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimPrefix(endpoint, "https://")
	} else if strings.HasPrefix(endpoint, "http://") {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage client: %w", err)
	}

	return &Replicator{
		client:     client,
		bucket:     cfg.Bucket,
		pathPrefix: cfg.PathPrefix,
	}, nil
}

// Replicate uploads the archive at path under its base name.
func (r *Replicator) Replicate(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive for replication: %w", err)
	}
	defer f.Close()

	key := filepath.Base(path)
	if r.pathPrefix != "" {
		key = r.pathPrefix + "/" + key
	}

	start := time.Now()
	info, err := r.client.PutObject(ctx, r.bucket, key, f, -1, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	log.Printf("backup: replicated %s (%d bytes) in %v", key, info.Size, time.Since(start).Round(time.Millisecond))
	return nil
}
