package commands

import (
	"fmt"
	"os"

	"github.com/openlingua/translate-deploy/internal/di"
	deployerrors "github.com/openlingua/translate-deploy/internal/errors"
	"github.com/openlingua/translate-deploy/internal/services"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func UploadModelsCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "upload-models",
		Usage: "Upload the translation model archive to an S3 bucket",
		Description: `Upload the model archive to an explicit bucket without running a full
deploy. Useful for refreshing models after the stack already exists.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "region",
				Usage:   "AWS region",
				Value:   "us-east-1",
				EnvVars: []string{"AWS_REGION"},
			},
			&cli.StringFlag{
				Name:     "bucket",
				Aliases:  []string{"b"},
				Usage:    "Destination S3 bucket",
				Required: true,
				EnvVars:  []string{"MODEL_BUCKET"},
			},
			&cli.StringFlag{
				Name:    "model-key",
				Usage:   "S3 key the model archive is uploaded under",
				Value:   "models/models.tar.gz",
				EnvVars: []string{"MODEL_KEY"},
			},
			&cli.StringFlag{
				Name:    "model-archive",
				Usage:   "Local path to the translation model archive",
				Value:   "models.tar.gz",
				EnvVars: []string{"MODEL_ARCHIVE"},
			},
		},
		Action: func(c *cli.Context) error {
			return uploadModelsAction(c, logger)
		},
	}
}

func uploadModelsAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := logger.WithContext(c.Context)

	region := c.String("region")
	bucket := c.String("bucket")
	key := c.String("model-key")
	archive := c.String("model-archive")

	info, err := os.Stat(archive)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", deployerrors.ErrModelArchiveNotFound, archive)
		}
		return fmt.Errorf("failed to stat model archive %s: %w", archive, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", deployerrors.ErrModelArchiveNotFound, archive)
	}

	container, err := di.New(region)
	if err != nil {
		return err
	}

	return container.Invoke(func(models *services.ModelStore) error {
		if err := models.Upload(ctx, bucket, key, archive); err != nil {
			return err
		}
		logger.Info().Msgf("Uploaded %s to s3://%s/%s", archive, bucket, key)
		return nil
	})
}
