package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	deployerrors "github.com/openlingua/translate-deploy/internal/errors"
	"github.com/rs/zerolog"
)

// Mock implementations

type mockBuilder struct {
	buildFunc func(ctx context.Context, contextDir, dockerfile, tag string) error
	tagFunc   func(ctx context.Context, source, target string) error
	pushFunc  func(ctx context.Context, ref, registryAuth string) error
}

func (m *mockBuilder) Build(ctx context.Context, contextDir, dockerfile, tag string) error {
	if m.buildFunc != nil {
		return m.buildFunc(ctx, contextDir, dockerfile, tag)
	}
	return nil
}

func (m *mockBuilder) Tag(ctx context.Context, source, target string) error {
	if m.tagFunc != nil {
		return m.tagFunc(ctx, source, target)
	}
	return nil
}

func (m *mockBuilder) Push(ctx context.Context, ref, registryAuth string) error {
	if m.pushFunc != nil {
		return m.pushFunc(ctx, ref, registryAuth)
	}
	return nil
}

type mockRegistry struct {
	ensureFunc func(ctx context.Context, name string) (string, error)
	authFunc   func(ctx context.Context) (string, error)
}

func (m *mockRegistry) EnsureRepository(ctx context.Context, name string) (string, error) {
	if m.ensureFunc != nil {
		return m.ensureFunc(ctx, name)
	}
	return "123456789012.dkr.ecr.us-east-1.amazonaws.com/" + name, nil
}

func (m *mockRegistry) RegistryAuth(ctx context.Context) (string, error) {
	if m.authFunc != nil {
		return m.authFunc(ctx)
	}
	return "encoded-auth", nil
}

type uploadCall struct {
	Bucket string
	Key    string
	Path   string
}

type mockModelStore struct {
	uploadFunc func(ctx context.Context, bucket, key, path string) error
	calls      []uploadCall
}

func (m *mockModelStore) Upload(ctx context.Context, bucket, key, path string) error {
	m.calls = append(m.calls, uploadCall{Bucket: bucket, Key: key, Path: path})
	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, bucket, key, path)
	}
	return nil
}

type mockStacks struct {
	deployFunc  func(ctx context.Context, stackName, templatePath string, params map[string]string) error
	outputsFunc func(ctx context.Context, stackName string) (map[string]string, error)
	deployCount int
	params      map[string]string
}

func (m *mockStacks) Deploy(ctx context.Context, stackName, templatePath string, params map[string]string) error {
	m.deployCount++
	m.params = params
	if m.deployFunc != nil {
		return m.deployFunc(ctx, stackName, templatePath, params)
	}
	return nil
}

func (m *mockStacks) Outputs(ctx context.Context, stackName string) (map[string]string, error) {
	if m.outputsFunc != nil {
		return m.outputsFunc(ctx, stackName)
	}
	return map[string]string{}, nil
}

type mockEndpoints struct {
	ensureFunc func(ctx context.Context, functionName string) (string, error)
	calls      []string
}

func (m *mockEndpoints) EnsurePublicURL(ctx context.Context, functionName string) (string, error) {
	m.calls = append(m.calls, functionName)
	if m.ensureFunc != nil {
		return m.ensureFunc(ctx, functionName)
	}
	return "https://abc123.lambda-url.us-east-1.on.aws/", nil
}

// Helpers

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func tempArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.tar.gz")
	if err := os.WriteFile(path, []byte("model-data"), 0o644); err != nil {
		t.Fatalf("failed to write temp archive: %v", err)
	}
	return path
}

func testConfig(t *testing.T, modelBucket string) Config {
	return Config{
		Region:       "us-east-1",
		StackName:    "libretranslate-lambda",
		Repository:   "libretranslate-lambda",
		ImageTag:     "latest",
		BuildContext: ".",
		Dockerfile:   "Dockerfile.lambda",
		TemplatePath: "cloudformation.template",
		ModelArchive: tempArchive(t),
		ModelKey:     "models/models.tar.gz",
		ModelBucket:  modelBucket,
	}
}

// Tests

func TestRun_PreExistingBucket_UploadsOnceBeforeDeploy(t *testing.T) {
	models := &mockModelStore{}
	stacks := &mockStacks{
		outputsFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
			return map[string]string{
				OutputModelBucketUsed: "pre-bucket",
				OutputFunctionName:    "translate-fn",
			}, nil
		},
	}
	uploadedBeforeDeploy := false
	stacks.deployFunc = func(ctx context.Context, stackName, templatePath string, params map[string]string) error {
		uploadedBeforeDeploy = len(models.calls) == 1
		return nil
	}

	d := New(testConfig(t, "pre-bucket"), &mockBuilder{}, &mockRegistry{}, models, stacks, &mockEndpoints{})

	result, err := d.Run(testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(models.calls) != 1 {
		t.Fatalf("expected exactly 1 upload, got %d", len(models.calls))
	}
	if !uploadedBeforeDeploy {
		t.Error("expected upload to happen before stack deploy")
	}
	if models.calls[0].Bucket != "pre-bucket" {
		t.Errorf("upload bucket = %q, want %q", models.calls[0].Bucket, "pre-bucket")
	}
	if models.calls[0].Key != "models/models.tar.gz" {
		t.Errorf("upload key = %q, want %q", models.calls[0].Key, "models/models.tar.gz")
	}
	if result.ModelBucket != "pre-bucket" {
		t.Errorf("result.ModelBucket = %q, want %q", result.ModelBucket, "pre-bucket")
	}
	if stacks.params[ParamModelBucket] != "pre-bucket" {
		t.Errorf("stack param %s = %q, want %q", ParamModelBucket, stacks.params[ParamModelBucket], "pre-bucket")
	}
}

func TestRun_BucketCreatedByStack_UploadsOnceAfterDeploy(t *testing.T) {
	models := &mockModelStore{}
	stacks := &mockStacks{
		outputsFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
			return map[string]string{
				OutputModelBucketUsed: "my-created-bucket",
				OutputFunctionName:    "translate-fn",
			}, nil
		},
		deployFunc: func(ctx context.Context, stackName, templatePath string, params map[string]string) error {
			if len(models.calls) != 0 {
				t.Error("upload must not happen before stack deploy when the bucket is stack-created")
			}
			return nil
		},
	}

	d := New(testConfig(t, ""), &mockBuilder{}, &mockRegistry{}, models, stacks, &mockEndpoints{})

	result, err := d.Run(testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(models.calls) != 1 {
		t.Fatalf("expected exactly 1 upload, got %d", len(models.calls))
	}
	if models.calls[0].Bucket != "my-created-bucket" {
		t.Errorf("upload bucket = %q, want %q", models.calls[0].Bucket, "my-created-bucket")
	}
	if result.ModelBucket != "my-created-bucket" {
		t.Errorf("result.ModelBucket = %q, want %q", result.ModelBucket, "my-created-bucket")
	}
	// empty string signals "let the template create one"
	if got := stacks.params[ParamModelBucket]; got != "" {
		t.Errorf("stack param %s = %q, want empty", ParamModelBucket, got)
	}
}

func TestRun_MissingBucketOutput_Aborts(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]string
	}{
		{
			name:    "output absent",
			outputs: map[string]string{OutputFunctionName: "translate-fn"},
		},
		{
			name: "output empty",
			outputs: map[string]string{
				OutputModelBucketUsed: "",
				OutputFunctionName:    "translate-fn",
			},
		},
		{
			name: "output is None",
			outputs: map[string]string{
				OutputModelBucketUsed: "None",
				OutputFunctionName:    "translate-fn",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &mockModelStore{}
			stacks := &mockStacks{
				outputsFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
					return tt.outputs, nil
				},
			}
			endpoints := &mockEndpoints{}

			d := New(testConfig(t, ""), &mockBuilder{}, &mockRegistry{}, models, stacks, endpoints)

			_, err := d.Run(testContext())
			if !errors.Is(err, deployerrors.ErrBucketOutputMissing) {
				t.Fatalf("expected ErrBucketOutputMissing, got %v", err)
			}
			if len(models.calls) != 0 {
				t.Errorf("expected no upload attempts, got %d", len(models.calls))
			}
			if len(endpoints.calls) != 0 {
				t.Errorf("expected no endpoint provisioning after abort, got %d calls", len(endpoints.calls))
			}
		})
	}
}

func TestRun_BuildFailure_AbortsBeforeRegistry(t *testing.T) {
	buildErr := errors.New("dockerfile syntax error")
	registryCalled := false

	builder := &mockBuilder{
		buildFunc: func(ctx context.Context, contextDir, dockerfile, tag string) error {
			return buildErr
		},
	}
	registry := &mockRegistry{
		ensureFunc: func(ctx context.Context, name string) (string, error) {
			registryCalled = true
			return "", nil
		},
	}
	stacks := &mockStacks{}

	d := New(testConfig(t, "pre-bucket"), builder, registry, &mockModelStore{}, stacks, &mockEndpoints{})

	_, err := d.Run(testContext())
	if !errors.Is(err, buildErr) {
		t.Fatalf("expected build error, got %v", err)
	}
	if registryCalled {
		t.Error("registry must not be touched after a failed build")
	}
	if stacks.deployCount != 0 {
		t.Error("stack must not be deployed after a failed build")
	}
}

func TestRun_PushFailure_AbortsBeforeUpload(t *testing.T) {
	pushErr := errors.New("denied")
	builder := &mockBuilder{
		pushFunc: func(ctx context.Context, ref, registryAuth string) error {
			return pushErr
		},
	}
	models := &mockModelStore{}

	d := New(testConfig(t, "pre-bucket"), builder, &mockRegistry{}, models, &mockStacks{}, &mockEndpoints{})

	_, err := d.Run(testContext())
	if !errors.Is(err, pushErr) {
		t.Fatalf("expected push error, got %v", err)
	}
	if len(models.calls) != 0 {
		t.Errorf("expected no upload after failed push, got %d", len(models.calls))
	}
}

func TestRun_EndpointFailure_IsNonFatal(t *testing.T) {
	stacks := &mockStacks{
		outputsFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
			return map[string]string{
				OutputModelBucketUsed: "my-created-bucket",
				OutputFunctionName:    "translate-fn",
			}, nil
		},
	}
	endpoints := &mockEndpoints{
		ensureFunc: func(ctx context.Context, functionName string) (string, error) {
			return "", errors.New("ResourceConflictException: url exists")
		},
	}

	d := New(testConfig(t, ""), &mockBuilder{}, &mockRegistry{}, &mockModelStore{}, stacks, endpoints)

	result, err := d.Run(testContext())
	if err != nil {
		t.Fatalf("endpoint failure must not fail the run, got %v", err)
	}
	if result.FunctionURL != "" {
		t.Errorf("expected empty FunctionURL, got %q", result.FunctionURL)
	}
	if result.FunctionName != "translate-fn" {
		t.Errorf("result.FunctionName = %q, want %q", result.FunctionName, "translate-fn")
	}
}

func TestRun_MissingFunctionOutput_SkipsEndpoint(t *testing.T) {
	stacks := &mockStacks{
		outputsFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
			return map[string]string{OutputModelBucketUsed: "my-created-bucket"}, nil
		},
	}
	endpoints := &mockEndpoints{}

	d := New(testConfig(t, ""), &mockBuilder{}, &mockRegistry{}, &mockModelStore{}, stacks, endpoints)

	result, err := d.Run(testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(endpoints.calls) != 0 {
		t.Errorf("expected no endpoint provisioning, got %d calls", len(endpoints.calls))
	}
	if result.FunctionName != "" {
		t.Errorf("result.FunctionName = %q, want empty", result.FunctionName)
	}
}

func TestRun_MissingArchive_AbortsBeforeUpload(t *testing.T) {
	cfg := testConfig(t, "pre-bucket")
	cfg.ModelArchive = filepath.Join(t.TempDir(), "does-not-exist.tar.gz")

	models := &mockModelStore{}
	stacks := &mockStacks{}

	d := New(cfg, &mockBuilder{}, &mockRegistry{}, models, stacks, &mockEndpoints{})

	_, err := d.Run(testContext())
	if !errors.Is(err, deployerrors.ErrModelArchiveNotFound) {
		t.Fatalf("expected ErrModelArchiveNotFound, got %v", err)
	}
	if len(models.calls) != 0 {
		t.Errorf("expected no upload attempts, got %d", len(models.calls))
	}
	if stacks.deployCount != 0 {
		t.Error("stack must not be deployed when the archive is missing")
	}
}

func TestRun_UnreadableArchive_ReportsStatError(t *testing.T) {
	// A stat failure other than "not found" keeps its original cause
	// instead of being reported as a missing archive.
	cfg := testConfig(t, "pre-bucket")
	cfg.ModelArchive = filepath.Join(tempArchive(t), "models.tar.gz")

	models := &mockModelStore{}

	d := New(cfg, &mockBuilder{}, &mockRegistry{}, models, &mockStacks{}, &mockEndpoints{})

	_, err := d.Run(testContext())
	if err == nil {
		t.Fatal("expected an error for an unreadable archive path")
	}
	if errors.Is(err, deployerrors.ErrModelArchiveNotFound) {
		t.Errorf("stat failure must not be reported as ErrModelArchiveNotFound: %v", err)
	}
	if !strings.Contains(err.Error(), cfg.ModelArchive) {
		t.Errorf("error %q does not name the archive path %q", err, cfg.ModelArchive)
	}
	if len(models.calls) != 0 {
		t.Errorf("expected no upload attempts, got %d", len(models.calls))
	}
}

func TestRun_StackParameters(t *testing.T) {
	stacks := &mockStacks{
		outputsFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
			return map[string]string{
				OutputModelBucketUsed: "my-created-bucket",
				OutputFunctionName:    "translate-fn",
			}, nil
		},
	}

	d := New(testConfig(t, ""), &mockBuilder{}, &mockRegistry{}, &mockModelStore{}, stacks, &mockEndpoints{})

	if _, err := d.Run(testContext()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		ParamRepositoryName: "libretranslate-lambda",
		ParamImageTag:       "latest",
		ParamModelBucket:    "",
		ParamModelKey:       "models/models.tar.gz",
	}
	for key, value := range want {
		if got := stacks.params[key]; got != value {
			t.Errorf("stack param %s = %q, want %q", key, got, value)
		}
	}
}

func TestResultJSONKeys(t *testing.T) {
	// The deploy command's --json mode marshals Result; the wire keys are
	// part of its contract.
	result := Result{
		ImageRef:    "123456789012.dkr.ecr.us-east-1.amazonaws.com/libretranslate-lambda:latest",
		ModelBucket: "my-created-bucket",
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded["image_ref"] != result.ImageRef {
		t.Errorf("image_ref = %v, want %q", decoded["image_ref"], result.ImageRef)
	}
	if decoded["model_bucket"] != result.ModelBucket {
		t.Errorf("model_bucket = %v, want %q", decoded["model_bucket"], result.ModelBucket)
	}
	for _, key := range []string{"function_name", "function_url"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("empty %s should be omitted", key)
		}
	}
}

func TestRun_SecondRunConverges(t *testing.T) {
	// Re-running the workflow against already-provisioned resources must
	// succeed end to end.
	stacks := &mockStacks{
		outputsFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
			return map[string]string{
				OutputModelBucketUsed: "my-created-bucket",
				OutputFunctionName:    "translate-fn",
			}, nil
		},
	}

	d := New(testConfig(t, ""), &mockBuilder{}, &mockRegistry{}, &mockModelStore{}, stacks, &mockEndpoints{})

	for i := 0; i < 2; i++ {
		if _, err := d.Run(testContext()); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}
	if stacks.deployCount != 2 {
		t.Errorf("expected 2 stack deploys, got %d", stacks.deployCount)
	}
}
