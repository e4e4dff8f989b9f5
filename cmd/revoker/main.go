// Command revoker is the Lambda entrypoint EventBridge Scheduler invokes
// when a scheduled revocation fires (§6 "the revoker entrypoint"). Its
// event is the scheduler.RevocationPayload carried as the schedule
// target's input. The payload carries no manual/scheduled marker, so any
// caller that sends the same payload shape is handled as a scheduled
// revocation.
//
// Grounded on the teacher's agents/critic/cmd/critic/main.go startup
// shape, mirroring cmd/requester/cmd/approvals client wiring.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.temporal.io/sdk/client"

	"github.com/fivexl/sso-elevator/internal/awsclients"
	"github.com/fivexl/sso-elevator/internal/directory"
	"github.com/fivexl/sso-elevator/internal/executor"
	"github.com/fivexl/sso-elevator/internal/scheduler"
	"github.com/fivexl/sso-elevator/internal/status"
)

var logger = log.New(os.Stdout, "revoker ", log.LstdFlags|log.LUTC)

type handler struct {
	dir      *directory.Client
	temporal client.Client
}

func main() {
	ctx := context.Background()
	h, err := buildHandler(ctx)
	if err != nil {
		logger.Fatalf("init: %v", err)
	}
	lambda.Start(h.handle)
}

func buildHandler(ctx context.Context) (*handler, error) {
	clients, err := awsclients.Load(ctx)
	if err != nil {
		return nil, err
	}
	instanceARN := mustEnv("SSO_INSTANCE_ARN")
	identityStoreID := mustEnv("IDENTITY_STORE_ID")
	temporalAddress := envOr("TEMPORAL_ADDRESS", "localhost:7233")
	temporalNamespace := envOr("TEMPORAL_NAMESPACE", "default")

	dir := directory.New(clients.SSOAdmin, clients.IdentityStore, clients.Organizations, instanceARN, identityStoreID)
	temporalClient, err := client.Dial(client.Options{HostPort: temporalAddress, Namespace: temporalNamespace})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	return &handler{dir: dir, temporal: temporalClient}, nil
}

func (h *handler) handle(ctx context.Context, payload scheduler.RevocationPayload) (status.Result, error) {
	var collector status.Collector

	switch {
	case payload.Assignment != nil:
		input := executor.RevokeAccountInput{
			RequestID:        payload.RequestID,
			RequesterEmail:   payload.RequesterEmail,
			PrincipalID:      payload.Assignment.PrincipalID,
			AccountID:        payload.Assignment.AccountID,
			PermissionSetArn: payload.Assignment.PermissionSetArn,
			Reason:           payload.Reason,
		}
		if _, err := h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: executor.TaskQueue}, executor.RevokeAccountWorkflow, input); err != nil {
			collector.Add(fmt.Errorf("start revoke account workflow: %w", err))
		}
	case payload.Membership != nil:
		membershipID, err := h.resolveMembershipID(ctx, payload.Membership.GroupID, payload.Membership.PrincipalID)
		if err != nil {
			collector.Add(fmt.Errorf("resolve group membership: %w", err))
			return collector.Result(), nil
		}
		if membershipID == "" {
			// Already removed (manually or by a prior run); nothing to do.
			return collector.Result(), nil
		}
		input := executor.RevokeGroupInput{
			RequestID:      payload.RequestID,
			RequesterEmail: payload.RequesterEmail,
			PrincipalID:    payload.Membership.PrincipalID,
			GroupID:        payload.Membership.GroupID,
			MembershipID:   membershipID,
			Reason:         payload.Reason,
		}
		if _, err := h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: executor.TaskQueue}, executor.RevokeGroupWorkflow, input); err != nil {
			collector.Add(fmt.Errorf("start revoke group workflow: %w", err))
		}
	default:
		collector.Addf("revocation payload for request %s carries neither an assignment nor a membership", payload.RequestID)
	}
	return collector.Result(), nil
}

func (h *handler) resolveMembershipID(ctx context.Context, groupID, principalID string) (string, error) {
	memberships, err := h.dir.ListGroupMemberships(ctx, groupID)
	if err != nil {
		return "", err
	}
	for _, m := range memberships {
		if m.UserID == principalID {
			return m.MembershipID, nil
		}
	}
	return "", nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatalf("missing required environment variable %s", key)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
