package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/docker/docker/api/types/registry"
	deployerrors "github.com/openlingua/translate-deploy/internal/errors"
	"github.com/rs/zerolog"
)

type ECRService struct {
	client    *ecr.Client
	stsClient *sts.Client
}

func NewECRService(client *ecr.Client, stsClient *sts.Client) *ECRService {
	return &ECRService{
		client:    client,
		stsClient: stsClient,
	}
}

// EnsureRepository creates the ECR repository with scan-on-push enabled and
// returns its URI. An already-existing repository is treated as success; the
// existing repository is described to obtain its URI.
func (s *ECRService) EnsureRepository(ctx context.Context, repositoryName string) (string, error) {
	logger := zerolog.Ctx(ctx)

	output, err := s.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repositoryName),
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: true,
		},
		Tags: []types.Tag{
			{
				Key:   aws.String("ManagedBy"),
				Value: aws.String("translate-deploy"),
			},
		},
	})
	if err != nil {
		if !isRepositoryExists(err) {
			return "", fmt.Errorf("failed to create repository: %w", err)
		}

		logger.Info().Str("repository", repositoryName).Msg("Repository already exists")
		describeOutput, describeErr := s.client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
			RepositoryNames: []string{repositoryName},
		})
		if describeErr != nil {
			return "", fmt.Errorf("repository exists but failed to describe: %w", describeErr)
		}
		if len(describeOutput.Repositories) == 0 {
			return "", fmt.Errorf("repository exists but not found in describe")
		}
		return aws.ToString(describeOutput.Repositories[0].RepositoryUri), nil
	}

	logger.Info().
		Str("repository", repositoryName).
		Str("uri", aws.ToString(output.Repository.RepositoryUri)).
		Msg("Repository created")
	return aws.ToString(output.Repository.RepositoryUri), nil
}

// isRepositoryExists recognizes the benign already-exists condition on
// repository creation.
func isRepositoryExists(err error) bool {
	var exists *types.RepositoryAlreadyExistsException
	return errors.As(err, &exists)
}

// RegistryAuth obtains a short-lived ECR authorization token and returns it
// encoded for the Docker Engine API's X-Registry-Auth header.
func (s *ECRService) RegistryAuth(ctx context.Context) (string, error) {
	output, err := s.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get authorization token: %w", err)
	}
	if len(output.AuthorizationData) == 0 {
		return "", deployerrors.ErrRegistryTokenUnavailable
	}

	data := output.AuthorizationData[0]
	return encodeRegistryAuth(aws.ToString(data.AuthorizationToken), aws.ToString(data.ProxyEndpoint))
}

// encodeRegistryAuth converts ECR's base64 "user:password" token into the
// encoded auth config the Docker Engine API expects.
func encodeRegistryAuth(token, proxyEndpoint string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("failed to decode authorization token: %w", err)
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", fmt.Errorf("%w: unexpected token format", deployerrors.ErrRegistryTokenUnavailable)
	}

	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      username,
		Password:      password,
		ServerAddress: proxyEndpoint,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode registry auth: %w", err)
	}
	return auth, nil
}

// AccountID retrieves the AWS account ID of the active credentials
func (s *ECRService) AccountID(ctx context.Context) (string, error) {
	output, err := s.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(output.Account), nil
}
