package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"echofm/config"
	"echofm/errs"
	"echofm/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioStore keeps tracks in an object bucket under <shard>/<external_id>.mp3.
// Media is still staged to the local filesystem first; the upload of the
// complete staged file is the atomic placement step.
type minioStore struct {
	client  *minio.Client
	bucket  string
	staging string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(cfg *config.Config) (TrackStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("Created storage bucket", logger.String("bucket", cfg.MinioBucket))
	}

	if err := os.MkdirAll(cfg.StagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	logger.Info("MinIO track store initialized",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return &minioStore{client: client, bucket: cfg.MinioBucket, staging: cfg.StagingDir}, nil
}

func (s *minioStore) objectKey(externalID string) string {
	return Shard(externalID) + "/" + externalID + ".mp3"
}

func (s *minioStore) Save(ctx context.Context, externalID string, media io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.staging, externalID+"-*.part")
	if err != nil {
		return "", 0, errs.Wrap(errs.ErrStorage, "failed to create staging file: %v", err)
	}
	stagingPath := tmp.Name()
	defer os.Remove(stagingPath)

	size, err := io.Copy(tmp, media)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, errs.Wrap(errs.ErrStorage, "failed to stage media for %s: %v", externalID, err)
	}
	if ctx.Err() != nil {
		return "", 0, ctx.Err()
	}

	key := s.objectKey(externalID)
	if _, err := s.client.FPutObject(ctx, s.bucket, key, stagingPath, minio.PutObjectOptions{
		ContentType: "audio/mpeg",
	}); err != nil {
		return "", 0, errs.Wrap(errs.ErrStorage, "failed to upload %s: %v", externalID, err)
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	logger.Info("Track stored",
		logger.String("externalId", externalID),
		logger.String("location", location),
		logger.Int64("bytes", size))
	return location, size, nil
}
