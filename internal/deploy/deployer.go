package deploy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openlingua/translate-deploy/internal/errors"
	"github.com/rs/zerolog"
)

// CloudFormation parameter keys passed to the stack and the output keys
// read back from it.
const (
	ParamRepositoryName = "RepositoryName"
	ParamImageTag       = "ImageTag"
	ParamModelBucket    = "ModelBucket"
	ParamModelKey       = "ModelKey"

	OutputModelBucketUsed = "ModelBucketUsed"
	OutputFunctionName    = "FunctionName"
)

// Config holds the resolved deployment settings. Immutable once resolved
// from flags and environment.
type Config struct {
	Region       string
	StackName    string
	Repository   string
	ImageTag     string
	BuildContext string
	Dockerfile   string
	TemplatePath string
	ModelArchive string
	ModelKey     string
	ModelBucket  string // optional pre-existing bucket; empty lets the template create one
}

// ImageBuilder abstracts local container image operations for testing
type ImageBuilder interface {
	Build(ctx context.Context, contextDir, dockerfile, tag string) error
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, ref, registryAuth string) error
}

// ContainerRegistry defines the remote registry operations needed for a deploy
type ContainerRegistry interface {
	EnsureRepository(ctx context.Context, name string) (uri string, err error)
	RegistryAuth(ctx context.Context) (auth string, err error)
}

// ModelStore abstracts the object-storage upload of the model archive
type ModelStore interface {
	Upload(ctx context.Context, bucket, key, path string) error
}

// StackDeployer abstracts the infrastructure stack control plane
type StackDeployer interface {
	Deploy(ctx context.Context, stackName, templatePath string, params map[string]string) error
	Outputs(ctx context.Context, stackName string) (map[string]string, error)
}

// EndpointProvisioner provisions the public invocation URL for a function
type EndpointProvisioner interface {
	EnsurePublicURL(ctx context.Context, functionName string) (string, error)
}

// Result summarizes a completed deployment. FunctionURL may be empty: the
// endpoint step is best-effort and never fails the run.
type Result struct {
	ImageRef     string `json:"image_ref"`
	ModelBucket  string `json:"model_bucket"`
	FunctionName string `json:"function_name,omitempty"`
	FunctionURL  string `json:"function_url,omitempty"`
}

// Deployer drives the sequential deployment workflow: build the image, push
// it to the registry, upload the model archive, apply the stack, and
// provision the public endpoint. Execution is fail-fast with no retries;
// only the endpoint step is tolerated to fail.
type Deployer struct {
	config    Config
	builder   ImageBuilder
	registry  ContainerRegistry
	models    ModelStore
	stacks    StackDeployer
	endpoints EndpointProvisioner
}

// New creates a new Deployer instance
func New(config Config, builder ImageBuilder, registry ContainerRegistry, models ModelStore, stacks StackDeployer, endpoints EndpointProvisioner) *Deployer {
	return &Deployer{
		config:    config,
		builder:   builder,
		registry:  registry,
		models:    models,
		stacks:    stacks,
		endpoints: endpoints,
	}
}

// Run executes the full workflow and returns the deployment summary.
func (d *Deployer) Run(ctx context.Context) (result *Result, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("stack_name", d.config.StackName).
			Dur("duration", time.Since(begin)).
			Msg("Deployment run completed")
	}(time.Now())

	plan := ResolveUploadPlan(d.config.ModelBucket)
	logger.Info().
		Str("upload_timing", plan.Timing.String()).
		Str("bucket", plan.Bucket).
		Msg("Resolved model upload plan")

	// Step 1: Build the container image locally
	localRef := LocalImageRef(d.config.Repository, d.config.ImageTag)
	logger.Info().Str("tag", localRef).Msg("Step 1: Building container image")
	if err := d.builder.Build(ctx, d.config.BuildContext, d.config.Dockerfile, localRef); err != nil {
		return nil, fmt.Errorf("image build failed: %w", err)
	}

	// Step 2: Ensure the remote repository exists
	logger.Info().Str("repository", d.config.Repository).Msg("Step 2: Ensuring image repository")
	repoURI, err := d.registry.EnsureRepository(ctx, d.config.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure repository %q: %w", d.config.Repository, err)
	}

	// Step 3: Authenticate, tag, and push
	logger.Info().Str("repository_uri", repoURI).Msg("Step 3: Pushing image to registry")
	auth, err := d.registry.RegistryAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain registry credentials: %w", err)
	}
	remoteRef := RemoteImageRef(repoURI, d.config.ImageTag)
	if err := d.builder.Tag(ctx, localRef, remoteRef); err != nil {
		return nil, fmt.Errorf("failed to tag image %q as %q: %w", localRef, remoteRef, err)
	}
	if err := d.builder.Push(ctx, remoteRef, auth); err != nil {
		return nil, fmt.Errorf("image push failed: %w", err)
	}

	// Step 4: Upload the model archive now, or defer to after the stack
	// reports the bucket it created
	if bucket, ok := plan.PreExisting(); ok {
		logger.Info().Str("bucket", bucket).Msg("Step 4: Uploading model archive to existing bucket")
		if err := d.uploadModels(ctx, bucket); err != nil {
			return nil, err
		}
	} else {
		logger.Info().Msg("Step 4: Model bucket will be created by the stack, deferring upload")
	}

	// Step 5: Apply the stack, passing the build outputs as parameters.
	// An empty ModelBucket tells the template to create one.
	logger.Info().Str("stack_name", d.config.StackName).Msg("Step 5: Deploying infrastructure stack")
	params := map[string]string{
		ParamRepositoryName: d.config.Repository,
		ParamImageTag:       d.config.ImageTag,
		ParamModelBucket:    plan.Bucket,
		ParamModelKey:       d.config.ModelKey,
	}
	if err := d.stacks.Deploy(ctx, d.config.StackName, d.config.TemplatePath, params); err != nil {
		return nil, fmt.Errorf("stack deployment failed: %w", err)
	}

	outputs, err := d.stacks.Outputs(ctx, d.config.StackName)
	if err != nil {
		return nil, fmt.Errorf("failed to read stack outputs: %w", err)
	}

	result = &Result{
		ImageRef:    remoteRef,
		ModelBucket: plan.Bucket,
	}

	// Step 6: Deferred upload to the stack-created bucket
	if plan.Timing == UploadAfterDeploy {
		bucket := outputs[OutputModelBucketUsed]
		if bucket == "" || bucket == "None" {
			return nil, fmt.Errorf("%w: output %q is missing or empty", errors.ErrBucketOutputMissing, OutputModelBucketUsed)
		}
		logger.Info().Str("bucket", bucket).Msg("Step 6: Uploading model archive to stack-created bucket")
		if err := d.uploadModels(ctx, bucket); err != nil {
			return nil, err
		}
		result.ModelBucket = bucket
	}

	// Step 7: Provision the public function URL. Best-effort: a failure
	// here is logged and the run still succeeds.
	functionName := outputs[OutputFunctionName]
	if functionName == "" {
		logger.Warn().
			Str("output", OutputFunctionName).
			Msg("Stack did not report a function name, skipping function URL provisioning")
		return result, nil
	}

	logger.Info().Str("function", functionName).Msg("Step 7: Provisioning public function URL")
	result.FunctionName = functionName
	url, err := d.endpoints.EnsurePublicURL(ctx, functionName)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("function", functionName).
			Msg("Function URL provisioning failed, continuing")
		return result, nil
	}
	result.FunctionURL = url

	return result, nil
}

// uploadModels checks that the archive exists on disk before pushing it to
// bucket/key.
func (d *Deployer) uploadModels(ctx context.Context, bucket string) error {
	info, err := os.Stat(d.config.ModelArchive)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", errors.ErrModelArchiveNotFound, d.config.ModelArchive)
		}
		return fmt.Errorf("failed to stat model archive %s: %w", d.config.ModelArchive, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", errors.ErrModelArchiveNotFound, d.config.ModelArchive)
	}

	if err := d.models.Upload(ctx, bucket, d.config.ModelKey, d.config.ModelArchive); err != nil {
		return fmt.Errorf("model upload to s3://%s/%s failed: %w", bucket, d.config.ModelKey, err)
	}
	return nil
}
