package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rs/zerolog"
)

// DockerService drives the local Docker daemon for image build, tag, and
// push operations.
type DockerService struct {
	client *client.Client
}

func NewDockerService() (*DockerService, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerService{client: cli}, nil
}

func (s *DockerService) Close() error {
	return s.client.Close()
}

// Build builds an image from contextDir using the given Dockerfile and
// applies tag to the result. Errors reported in the daemon's progress
// stream abort the build.
func (s *DockerService) Build(ctx context.Context, contextDir, dockerfile, tag string) (err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("dockerfile", dockerfile).
			Str("tag", tag).
			Dur("duration", time.Since(begin)).
			Msg("Image build completed")
	}(time.Now())

	buildContext, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to tar build context %q: %w", contextDir, err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer buildContext.Close()

	resp, err := s.client.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Dockerfile: dockerfile,
		Tags:       []string{tag},
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to start image build: %w", err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	if err := drainProgressStream(resp.Body); err != nil {
		return fmt.Errorf("image build reported an error: %w", err)
	}
	return nil
}

// Tag applies target as an additional reference to the source image.
func (s *DockerService) Tag(ctx context.Context, source, target string) error {
	if err := s.client.ImageTag(ctx, source, target); err != nil {
		return fmt.Errorf("failed to tag %q as %q: %w", source, target, err)
	}
	return nil
}

// Push pushes ref to its registry using the encoded registry credentials.
func (s *DockerService) Push(ctx context.Context, ref, registryAuth string) (err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("ref", ref).
			Dur("duration", time.Since(begin)).
			Msg("Image push completed")
	}(time.Now())

	reader, err := s.client.ImagePush(ctx, ref, image.PushOptions{
		RegistryAuth: registryAuth,
	})
	if err != nil {
		return fmt.Errorf("failed to start image push: %w", err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer reader.Close()

	if err := drainProgressStream(reader); err != nil {
		return fmt.Errorf("image push reported an error: %w", err)
	}
	return nil
}

// drainProgressStream consumes a Docker JSON progress stream, echoing it to
// stderr, and surfaces any in-stream error message.
func drainProgressStream(r io.Reader) error {
	return jsonmessage.DisplayJSONMessagesStream(r, os.Stderr, 0, false, nil)
}
