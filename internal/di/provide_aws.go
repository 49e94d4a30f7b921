package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/openlingua/translate-deploy/internal/deploy"
	"github.com/openlingua/translate-deploy/internal/services"
)

func ProvideContext() context.Context {
	return context.Background()
}

func ProvideAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

func ProvideECRClient(config aws.Config) *ecr.Client {
	return ecr.NewFromConfig(config)
}

func ProvideSTSClient(config aws.Config) *sts.Client {
	return sts.NewFromConfig(config)
}

func ProvideS3Client(config aws.Config) *s3.Client {
	return s3.NewFromConfig(config)
}

func ProvideCloudFormationClient(config aws.Config) *cloudformation.Client {
	return cloudformation.NewFromConfig(config)
}

func ProvideLambdaClient(config aws.Config) *lambda.Client {
	return lambda.NewFromConfig(config)
}

func ProvideDeployer(
	cfg deploy.Config,
	builder *services.DockerService,
	registry *services.ECRService,
	models *services.ModelStore,
	stacks *services.StackService,
	endpoints *services.FunctionURLService,
) *deploy.Deployer {
	return deploy.New(cfg, builder, registry, models, stacks, endpoints)
}
