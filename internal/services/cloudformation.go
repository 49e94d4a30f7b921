package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	deployerrors "github.com/openlingua/translate-deploy/internal/errors"
	"github.com/openlingua/translate-deploy/internal/utils"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// stackWaitTimeout bounds the blocking wait on stack create/update. Lambda
// plus bucket provisioning normally settles in minutes; an hour leaves room
// for slow first-time image pulls.
const stackWaitTimeout = time.Hour

// StackService applies and inspects CloudFormation stacks. Deploy is
// idempotent: repeated application converges rather than erroring on no-op
// changes.
type StackService struct {
	client *cloudformation.Client
}

func NewStackService(client *cloudformation.Client) *StackService {
	return &StackService{client: client}
}

// StackStatus describes the current state of a stack.
type StackStatus struct {
	StackName    string  `json:"stack_name"`
	Status       string  `json:"status"`
	StatusReason *string `json:"status_reason,omitempty"`
}

// Deploy applies the template at templatePath to stackName with the given
// parameters, creating or updating as needed, and blocks until the stack
// settles.
func (s *StackService) Deploy(ctx context.Context, stackName, templatePath string, params map[string]string) (err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("stack_name", stackName).
			Dur("duration", time.Since(begin)).
			Msg("Stack deploy completed")
	}(time.Now())

	body, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}
	template := string(body)

	if err := validateTemplateParameters(template, params); err != nil {
		return err
	}

	parameters := utils.MergeParameters(params)

	exists, err := s.stackExists(ctx, stackName)
	if err != nil {
		return fmt.Errorf("failed to check if stack exists: %w", err)
	}

	if exists {
		return s.updateStack(ctx, stackName, template, parameters)
	}
	return s.createStack(ctx, stackName, template, parameters)
}

// Outputs returns the stack's output key-value pairs.
func (s *StackService) Outputs(ctx context.Context, stackName string) (map[string]string, error) {
	stack, err := s.describeStack(ctx, stackName)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]string, len(stack.Outputs))
	for _, output := range stack.Outputs {
		outputs[aws.ToString(output.OutputKey)] = aws.ToString(output.OutputValue)
	}
	return outputs, nil
}

// Status returns the stack's current status and reason.
func (s *StackService) Status(ctx context.Context, stackName string) (*StackStatus, error) {
	stack, err := s.describeStack(ctx, stackName)
	if err != nil {
		return nil, err
	}

	return &StackStatus{
		StackName:    stackName,
		Status:       string(stack.StackStatus),
		StatusReason: stack.StackStatusReason,
	}, nil
}

func (s *StackService) describeStack(ctx context.Context, stackName string) (*types.Stack, error) {
	result, err := s.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isStackMissingError(err) {
			return nil, fmt.Errorf("%w: %s", deployerrors.ErrStackNotFound, stackName)
		}
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(result.Stacks) == 0 {
		return nil, fmt.Errorf("%w: %s", deployerrors.ErrStackNotFound, stackName)
	}
	return &result.Stacks[0], nil
}

func (s *StackService) stackExists(ctx context.Context, stackName string) (bool, error) {
	_, err := s.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isStackMissingError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *StackService) createStack(ctx context.Context, stackName, template string, parameters []types.Parameter) error {
	logger := zerolog.Ctx(ctx)

	result, err := s.client.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(template),
		Parameters:   parameters,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
		Tags: []types.Tag{
			{
				Key:   aws.String("ManagedBy"),
				Value: aws.String("translate-deploy"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create stack: %w", err)
	}

	logger.Info().
		Str("stack_name", stackName).
		Str("stack_id", aws.ToString(result.StackId)).
		Str("operation", "CREATE").
		Msg("Waiting for stack to settle")

	waiter := cloudformation.NewStackCreateCompleteWaiter(s.client)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	}, stackWaitTimeout); err != nil {
		return fmt.Errorf("stack create did not complete: %w", err)
	}
	return nil
}

func (s *StackService) updateStack(ctx context.Context, stackName, template string, parameters []types.Parameter) error {
	logger := zerolog.Ctx(ctx)

	result, err := s.client.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(template),
		Parameters:   parameters,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
	})
	if err != nil {
		if isNoUpdatesError(err) {
			logger.Info().Str("stack_name", stackName).Msg("No updates needed for stack")
			return nil
		}
		return fmt.Errorf("failed to update stack: %w", err)
	}

	logger.Info().
		Str("stack_name", stackName).
		Str("stack_id", aws.ToString(result.StackId)).
		Str("operation", "UPDATE").
		Msg("Waiting for stack to settle")

	waiter := cloudformation.NewStackUpdateCompleteWaiter(s.client)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	}, stackWaitTimeout); err != nil {
		return fmt.Errorf("stack update did not complete: %w", err)
	}
	return nil
}

// isStackMissingError recognizes the ValidationError CloudFormation returns
// when a stack does not exist.
func isStackMissingError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

// isNoUpdatesError recognizes the ValidationError returned for a no-op
// update, which is treated as convergence rather than failure.
func isNoUpdatesError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			(strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed") ||
				strings.Contains(apiErr.ErrorMessage(), "No updates to be performed"))
	}
	return false
}

// validateTemplateParameters parses the template and confirms it declares
// every parameter we are about to pass, catching template/workflow drift
// before CloudFormation rejects the call.
func validateTemplateParameters(template string, params map[string]string) error {
	var parsed struct {
		Parameters map[string]yaml.Node `yaml:"Parameters"`
	}
	if err := yaml.Unmarshal([]byte(template), &parsed); err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	for key := range params {
		if _, ok := parsed.Parameters[key]; !ok {
			return fmt.Errorf("%w: %s", deployerrors.ErrTemplateParamNotDeclared, key)
		}
	}
	return nil
}
