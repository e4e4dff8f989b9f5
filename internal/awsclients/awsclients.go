// Package awsclients builds the shared set of AWS SDK clients every cmd/*
// entrypoint needs, loaded once at process start from the default
// credential chain and region resolution (§9 "environment read once at
// startup").
package awsclients

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
)

// Clients bundles every AWS SDK client a cmd/* entrypoint may need. Not
// every entrypoint uses every field; unused clients are cheap to
// construct (no network I/O happens until a call is made).
type Clients struct {
	SSOAdmin      *ssoadmin.Client
	IdentityStore *identitystore.Client
	Organizations *organizations.Client
	S3            *s3.Client
	Scheduler     *scheduler.Client
}

// Load resolves the default AWS config (environment, shared config file,
// EC2/ECS/Lambda role credentials, in that order) and constructs every
// client.
func Load(ctx context.Context) (*Clients, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Clients{
		SSOAdmin:      ssoadmin.NewFromConfig(cfg),
		IdentityStore: identitystore.NewFromConfig(cfg),
		Organizations: organizations.NewFromConfig(cfg),
		S3:            s3.NewFromConfig(cfg),
		Scheduler:     scheduler.NewFromConfig(cfg),
	}, nil
}

// Region returns the resolved region, useful for logging at startup.
func Region(cfg awssdk.Config) string { return cfg.Region }
