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

func StatusCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the deployed stack's status, outputs, and endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "region",
				Usage:   "AWS region",
				Value:   "us-east-1",
				EnvVars: []string{"AWS_REGION"},
			},
			&cli.StringFlag{
				Name:    "stack-name",
				Usage:   "CloudFormation stack name",
				Value:   "libretranslate-lambda",
				EnvVars: []string{"STACK_NAME"},
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the stack status as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			return statusAction(c, logger)
		},
	}
}

func statusAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := logger.WithContext(c.Context)

	region := c.String("region")
	stackName := c.String("stack-name")

	container, err := di.New(region)
	if err != nil {
		return err
	}

	return container.Invoke(func(stacks *services.StackService, urls *services.FunctionURLService) error {
		status, err := stacks.Status(ctx, stackName)
		if err != nil {
			return err
		}

		outputs, err := stacks.Outputs(ctx, stackName)
		if err != nil {
			return err
		}

		var endpoint string
		if functionName := outputs[deploy.OutputFunctionName]; functionName != "" {
			endpoint, err = urls.URL(ctx, functionName)
			if err != nil {
				logger.Warn().Err(err).Str("function", functionName).Msg("Failed to resolve function URL")
			}
		}

		if c.Bool("json") {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(statusReport{
				StackStatus: status,
				Outputs:     outputs,
				Endpoint:    endpoint,
			})
		}

		logger.Info().Msgf("Stack:  %s", status.StackName)
		logger.Info().Msgf("Status: %s", status.Status)
		if status.StatusReason != nil {
			logger.Info().Msgf("Reason: %s", *status.StatusReason)
		}
		if len(outputs) > 0 {
			logger.Info().Msg("Outputs:")
			for key, value := range outputs {
				logger.Info().Msgf("  %s = %s", key, value)
			}
		}
		if endpoint != "" {
			logger.Info().Msgf("Endpoint: %s", endpoint)
		} else {
			logger.Info().Msg("Endpoint: (no function URL configured)")
		}
		return nil
	})
}

type statusReport struct {
	*services.StackStatus
	Outputs  map[string]string `json:"outputs,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"`
}
