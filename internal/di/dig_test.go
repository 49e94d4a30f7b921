package di

import (
	"testing"
)

// Test types for dependency injection
type registryStub struct {
	URI string
}

type deployStub struct {
	Registry *registryStub
	Region   string
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		region  string
		opts    []Option
		wantErr bool
	}{
		{
			name:    "creates container with no providers",
			region:  "us-east-1",
			opts:    nil,
			wantErr: false,
		},
		{
			name:   "creates container with single provider",
			region: "eu-west-1",
			opts: []Option{
				WithProviders(func() *registryStub {
					return &registryStub{URI: "example.com/repo"}
				}),
			},
			wantErr: false,
		},
		{
			name:   "creates container with dependent providers",
			region: "us-west-2",
			opts: []Option{
				WithProviders(
					func() *registryStub {
						return &registryStub{URI: "example.com/repo"}
					},
					func(r *registryStub, region string) *deployStub {
						return &deployStub{Registry: r, Region: region}
					},
				),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container, err := New(tt.region, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if container == nil && !tt.wantErr {
				t.Error("New() returned nil container without error")
			}
		})
	}
}

func TestNew_InvalidProvider(t *testing.T) {
	// Attempting to provide the same type twice should fail
	_, err := New("us-east-1",
		WithProviders(
			func() *registryStub {
				return &registryStub{URI: "a"}
			},
			func() *registryStub {
				return &registryStub{URI: "b"}
			},
		),
	)

	if err == nil {
		t.Error("New() should return error when providing duplicate types")
	}
}

func TestRegionInjection(t *testing.T) {
	container, err := New("ap-southeast-2")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var got string
	if err := container.Invoke(func(region string) { got = region }); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "ap-southeast-2" {
		t.Errorf("region = %q, want %q", got, "ap-southeast-2")
	}
}

func TestMustGet(t *testing.T) {
	container, err := New("us-east-1",
		WithProviders(func(region string) *deployStub {
			return &deployStub{Region: region}
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stub := MustGet[*deployStub](container)
	if stub == nil {
		t.Fatal("MustGet returned nil")
	}
	if stub.Region != "us-east-1" {
		t.Errorf("Region = %q, want %q", stub.Region, "us-east-1")
	}
}
