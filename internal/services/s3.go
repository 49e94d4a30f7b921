package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ModelStore uploads the translation model archive to S3. It uses the S3
// transfer manager so large archives are split into concurrent multipart
// uploads.
type ModelStore struct {
	uploader *manager.Uploader
}

func NewModelStore(client *s3.Client) *ModelStore {
	return &ModelStore{
		uploader: manager.NewUploader(client),
	}
}

// Upload streams the file at path to s3://bucket/key.
func (s *ModelStore) Upload(ctx context.Context, bucket, key, path string) (err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("bucket", bucket).
			Str("key", key).
			Dur("duration", time.Since(begin)).
			Msg("Model archive upload completed")
	}(time.Now())

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()

	logger.Info().
		Str("path", path).
		Str("destination", fmt.Sprintf("s3://%s/%s", bucket, key)).
		Msg("Uploading model archive")

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", path, bucket, key, err)
	}
	return nil
}
