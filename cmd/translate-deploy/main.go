package main

import (
	"context"
	"os"

	"github.com/openlingua/translate-deploy/cmd/translate-deploy/commands"
	"github.com/openlingua/translate-deploy/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "translate-deploy",
		Usage: "Deploy the translation service to AWS Lambda",
		Description: `Automates deployment of the containerized translation service:
builds the container image, pushes it to ECR, uploads the translation
model archive to S3, applies the CloudFormation stack, and provisions a
public Lambda Function URL.`,
		Commands: []*cli.Command{
			commands.DeployCommand(&logger),
			commands.StatusCommand(&logger),
			commands.UploadModelsCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
