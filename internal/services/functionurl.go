package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog"
)

// publicURLStatementID identifies the resource policy statement that allows
// unauthenticated Function URL invocation.
const publicURLStatementID = "AllowPublicFunctionUrlInvoke"

// FunctionURLService provisions public (unauthenticated) Lambda Function
// URLs. Both the URL config and the permission statement are created
// idempotently: a ResourceConflictException means a previous run already
// provisioned them.
type FunctionURLService struct {
	client *lambda.Client
}

func NewFunctionURLService(client *lambda.Client) *FunctionURLService {
	return &FunctionURLService{client: client}
}

// EnsurePublicURL creates the function's public URL config and invoke
// permission if they do not already exist, then returns the URL.
func (s *FunctionURLService) EnsurePublicURL(ctx context.Context, functionName string) (string, error) {
	logger := zerolog.Ctx(ctx)

	_, err := s.client.CreateFunctionUrlConfig(ctx, &lambda.CreateFunctionUrlConfigInput{
		FunctionName: aws.String(functionName),
		AuthType:     types.FunctionUrlAuthTypeNone,
	})
	switch {
	case err == nil:
		logger.Info().Str("function", functionName).Msg("Function URL config created")
	case isResourceConflict(err):
		logger.Info().Str("function", functionName).Msg("Function URL config already exists")
	default:
		return "", fmt.Errorf("failed to create function URL config: %w", err)
	}

	_, err = s.client.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName:        aws.String(functionName),
		StatementId:         aws.String(publicURLStatementID),
		Action:              aws.String("lambda:InvokeFunctionUrl"),
		Principal:           aws.String("*"),
		FunctionUrlAuthType: types.FunctionUrlAuthTypeNone,
	})
	switch {
	case err == nil:
		logger.Info().Str("function", functionName).Msg("Public invoke permission added")
	case isResourceConflict(err):
		logger.Info().Str("function", functionName).Msg("Public invoke permission already present")
	default:
		return "", fmt.Errorf("failed to add invoke permission: %w", err)
	}

	return s.URL(ctx, functionName)
}

// URL returns the function's current public URL, or an empty string when no
// URL config exists.
func (s *FunctionURLService) URL(ctx context.Context, functionName string) (string, error) {
	output, err := s.client.GetFunctionUrlConfig(ctx, &lambda.GetFunctionUrlConfigInput{
		FunctionName: aws.String(functionName),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get function URL config: %w", err)
	}
	return aws.ToString(output.FunctionUrl), nil
}

func isResourceConflict(err error) bool {
	var conflict *types.ResourceConflictException
	return errors.As(err, &conflict)
}
