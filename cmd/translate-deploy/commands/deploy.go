package commands

import (
	"encoding/json"
	"os"

	"github.com/openlingua/translate-deploy/internal/deploy"
	"github.com/openlingua/translate-deploy/internal/di"
	"github.com/openlingua/translate-deploy/internal/services"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func DeployCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "Build, push, and deploy the translation service",
		Description: `Run the full deployment workflow:

  1. Build the container image locally
  2. Ensure the ECR repository exists (idempotent)
  3. Authenticate and push the image
  4. Upload the model archive (immediately when --model-bucket is set,
     otherwise after the stack reports the bucket it created)
  5. Apply the CloudFormation stack
  6. Provision a public Lambda Function URL (best-effort)

The run stops on the first failing step; only the Function URL step is
tolerated to fail.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "region",
				Usage:   "AWS region to deploy into",
				Value:   "us-east-1",
				EnvVars: []string{"AWS_REGION"},
			},
			&cli.StringFlag{
				Name:    "stack-name",
				Usage:   "CloudFormation stack name",
				Value:   "libretranslate-lambda",
				EnvVars: []string{"STACK_NAME"},
			},
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "ECR repository name",
				Value:   "libretranslate-lambda",
				EnvVars: []string{"ECR_REPO"},
			},
			&cli.StringFlag{
				Name:    "tag",
				Aliases: []string{"t"},
				Usage:   "Image tag",
				Value:   "latest",
				EnvVars: []string{"IMAGE_TAG"},
			},
			&cli.StringFlag{
				Name:    "build-context",
				Usage:   "Docker build context directory",
				Value:   ".",
				EnvVars: []string{"BUILD_CONTEXT"},
			},
			&cli.StringFlag{
				Name:    "dockerfile",
				Aliases: []string{"f"},
				Usage:   "Dockerfile path, relative to the build context",
				Value:   "Dockerfile.lambda",
				EnvVars: []string{"DOCKERFILE"},
			},
			&cli.StringFlag{
				Name:    "template",
				Usage:   "CloudFormation template path",
				Value:   "cloudformation.template",
				EnvVars: []string{"CFN_TEMPLATE"},
			},
			&cli.StringFlag{
				Name:    "model-archive",
				Usage:   "Local path to the translation model archive",
				Value:   "models.tar.gz",
				EnvVars: []string{"MODEL_ARCHIVE"},
			},
			&cli.StringFlag{
				Name:    "model-key",
				Usage:   "S3 key the model archive is uploaded under",
				Value:   "models/models.tar.gz",
				EnvVars: []string{"MODEL_KEY"},
			},
			&cli.StringFlag{
				Name:    "model-bucket",
				Usage:   "Pre-existing S3 bucket for the model archive (empty lets the stack create one)",
				EnvVars: []string{"MODEL_BUCKET"},
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the deployment result as JSON instead of the summary",
			},
		},
		Action: func(c *cli.Context) error {
			return deployAction(c, logger)
		},
	}
}

func deployAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := logger.WithContext(c.Context)

	cfg := deploy.Config{
		Region:       c.String("region"),
		StackName:    c.String("stack-name"),
		Repository:   c.String("repo"),
		ImageTag:     c.String("tag"),
		BuildContext: c.String("build-context"),
		Dockerfile:   c.String("dockerfile"),
		TemplatePath: c.String("template"),
		ModelArchive: c.String("model-archive"),
		ModelKey:     c.String("model-key"),
		ModelBucket:  c.String("model-bucket"),
	}

	container, err := di.New(cfg.Region, di.WithProviders(func() deploy.Config { return cfg }))
	if err != nil {
		return err
	}

	return container.Invoke(func(d *deploy.Deployer, registry *services.ECRService, docker *services.DockerService) error {
		defer docker.Close()

		accountID, err := registry.AccountID(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to get account ID")
			accountID = "unknown"
		}

		logger.Info().Msgf("Deploying %s to account %s in %s...", cfg.StackName, accountID, cfg.Region)

		result, err := d.Run(ctx)
		if err != nil {
			return err
		}

		if c.Bool("json") {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		}

		logger.Info().Msg("")
		logger.Info().Msg("========================================")
		logger.Info().Msg("Deployment Complete!")
		logger.Info().Msg("========================================")
		logger.Info().Msgf("Region:       %s", cfg.Region)
		logger.Info().Msgf("Account:      %s", accountID)
		logger.Info().Msgf("Stack:        %s", cfg.StackName)
		logger.Info().Msgf("Image:        %s", result.ImageRef)
		logger.Info().Msgf("Model bucket: %s", result.ModelBucket)
		if result.FunctionURL != "" {
			logger.Info().Msgf("Endpoint:     %s", result.FunctionURL)
		} else {
			logger.Info().Msg("Endpoint:     (not resolved)")
		}

		return nil
	})
}
