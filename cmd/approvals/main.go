// Command approvals is the Lambda entrypoint for approve/deny button
// callbacks on a pending access request. It verifies the inbound chat
// signature, rebuilds the request from the fields the callback carries,
// applies the Pending -> Approved/Denied transition, and on approval
// starts the same grant workflow the requester entrypoint would have
// started had the request been auto-approved.
//
// Grounded on the teacher's agents/critic/cmd/critic/main.go startup
// shape, mirroring cmd/requester's client wiring.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.temporal.io/sdk/client"

	"github.com/fivexl/sso-elevator/internal/awsclients"
	"github.com/fivexl/sso-elevator/internal/chatinbound"
	"github.com/fivexl/sso-elevator/internal/config"
	"github.com/fivexl/sso-elevator/internal/directory"
	"github.com/fivexl/sso-elevator/internal/executor"
	"github.com/fivexl/sso-elevator/internal/model"
	"github.com/fivexl/sso-elevator/internal/notify"
	"github.com/fivexl/sso-elevator/internal/objectstore"
	"github.com/fivexl/sso-elevator/internal/policy"
	"github.com/fivexl/sso-elevator/internal/request"
	"github.com/fivexl/sso-elevator/internal/scheduler"
	"github.com/fivexl/sso-elevator/internal/status"
)

var logger = log.New(os.Stdout, "approvals ", log.LstdFlags|log.LUTC)

type handler struct {
	dir           *directory.Client
	store         objectstore.Store
	configBucket  string
	temporal      client.Client
	notifier      *notify.Notifier
	sched         *scheduler.Client
	signingSecret []byte
}

// Event is the raw inbound Lambda payload: a signature header plus the
// signed body of a DecisionEvent.
type Event struct {
	SignatureHeader string `json:"signature_header"`
	Body            string `json:"body"`
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
	configBucket := mustEnv("CONFIG_BUCKET")
	temporalAddress := envOr("TEMPORAL_ADDRESS", "localhost:7233")
	temporalNamespace := envOr("TEMPORAL_NAMESPACE", "default")
	telegramToken := mustEnv("TELEGRAM_BOT_TOKEN")
	mainChatID, err := parseInt64(mustEnv("TELEGRAM_CHAT_ID"))
	if err != nil {
		return nil, err
	}
	scheduleGroup := mustEnv("SCHEDULE_GROUP_NAME")
	renotifierArn := mustEnv("RENOTIFIER_TARGET_ARN")
	schedulerRoleArn := mustEnv("SCHEDULER_ROLE_ARN")

	dir := directory.New(clients.SSOAdmin, clients.IdentityStore, clients.Organizations, instanceARN, identityStoreID)
	store := objectstore.New(clients.S3)
	sched := scheduler.New(clients.Scheduler, scheduleGroup, renotifierArn, schedulerRoleArn)

	temporalClient, err := client.Dial(client.Options{HostPort: temporalAddress, Namespace: temporalNamespace})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(telegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	return &handler{
		dir:           dir,
		store:         store,
		configBucket:  configBucket,
		temporal:      temporalClient,
		notifier:      notify.New(bot, mainChatID, false, logger),
		sched:         sched,
		signingSecret: []byte(mustEnv("CHAT_SIGNING_SECRET")),
	}, nil
}

func (h *handler) handle(ctx context.Context, event Event) (status.Result, error) {
	var collector status.Collector

	ev, err := chatinbound.ParseDecision([]byte(event.Body), []byte(event.SignatureHeader), h.signingSecret)
	if err != nil {
		collector.Add(fmt.Errorf("reject unsigned/malformed decision: %w", err))
		return collector.Result(), nil
	}

	access := ev.ToAccessRequest()

	switch ev.Decision {
	case "approve":
		approved, err := request.Approve(access, ev.ApproverEmail)
		if err != nil {
			// Not a no-op worth surfacing as an error: a second tap of an
			// already-decided button is expected UI behavior (idempotent retry).
			return collector.Result(), nil
		}
		h.cancelRenotify(ctx, ev.RequestID)
		h.notifier.Decided(approved.RequestID, ev.ApproverEmail, approved.Resource, true, ev.SecondaryDomainWasUsed, ev.RequesterChatID)
		if err := h.startGrant(ctx, approved, ev); err != nil {
			collector.Add(fmt.Errorf("start grant workflow: %w", err))
		}
	case "deny":
		denied, err := request.Deny(access, ev.ApproverEmail)
		if err != nil {
			return collector.Result(), nil
		}
		h.cancelRenotify(ctx, ev.RequestID)
		h.notifier.Decided(denied.RequestID, ev.ApproverEmail, denied.Resource, false, ev.SecondaryDomainWasUsed, ev.RequesterChatID)
	default:
		collector.Addf("unknown decision %q for request %s", ev.Decision, ev.RequestID)
	}
	return collector.Result(), nil
}

// cancelRenotify best-effort deletes the pending reminder schedule for a
// decided request. A stray reminder firing once on an already-decided
// request is harmless (cmd/renotifier re-sends a message, nothing more),
// so a delete failure here is logged, not surfaced as a handler error.
func (h *handler) cancelRenotify(ctx context.Context, requestID string) {
	if err := h.sched.Delete(ctx, scheduler.RenotifyName(requestID)); err != nil {
		logger.Printf("cancel renotify schedule for %s failed (ignored): %v", requestID, err)
	}
}

func (h *handler) startGrant(ctx context.Context, access model.AccessRequest, ev chatinbound.DecisionEvent) error {
	cfg, _, permSets, err := h.loadConfiguration(ctx)
	if err != nil {
		return err
	}
	resolvedUser, err := h.dir.LookupUserByEmail(ctx, access.RequesterEmail, cfg.Runtime.SecondaryFallbackEmailDomains)
	if err != nil {
		return fmt.Errorf("resolve requester: %w", err)
	}

	duration := access.Duration
	if duration <= 0 {
		duration = time.Duration(cfg.Runtime.MaxPermissionsDurationHours) * time.Hour
	}

	switch access.ResourceKind {
	case model.ResourceAccount:
		permissionSetArn, err := resolvePermissionSetArn(permSets, access.PermissionSetName)
		if err != nil {
			return err
		}
		input := executor.GrantAccountInput{
			RequestID:              access.RequestID,
			RequesterEmail:         access.RequesterEmail,
			ApproverEmail:          access.ApproverEmail,
			PrincipalID:            resolvedUser.ID,
			AccountID:              access.Resource,
			PermissionSetArn:       permissionSetArn,
			RoleName:               access.PermissionSetName,
			Reason:                 access.Reason,
			Duration:               duration,
			SecondaryDomainWasUsed: resolvedUser.SecondaryDomainWasUsed,
			RequesterChatID:        ev.RequesterChatID,
		}
		_, err = h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: executor.TaskQueue}, executor.GrantAccountWorkflow, input)
		return err
	case model.ResourceGroup:
		group, err := h.dir.DescribeGroupByName(ctx, access.Resource)
		if err != nil {
			return fmt.Errorf("resolve group %s: %w", access.Resource, err)
		}
		input := executor.GrantGroupInput{
			RequestID:              access.RequestID,
			RequesterEmail:         access.RequesterEmail,
			ApproverEmail:          access.ApproverEmail,
			PrincipalID:            resolvedUser.ID,
			GroupID:                group.ID,
			GroupName:              access.Resource,
			Reason:                 access.Reason,
			Duration:               duration,
			SecondaryDomainWasUsed: resolvedUser.SecondaryDomainWasUsed,
			RequesterChatID:        ev.RequesterChatID,
		}
		_, err = h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: executor.TaskQueue}, executor.GrantGroupWorkflow, input)
		return err
	default:
		return fmt.Errorf("unknown resource kind %q", access.ResourceKind)
	}
}

func (h *handler) loadConfiguration(ctx context.Context) (*config.Configuration, policy.Resolver, []directory.PermissionSet, error) {
	doc, err := h.store.Get(ctx, h.configBucket, "config/approval-config.json")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load approval config: %w", err)
	}
	accounts, err := h.dir.ListAccounts(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list accounts: %w", err)
	}
	permSets, err := h.dir.ListPermissionSets(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list permission sets: %w", err)
	}

	known := config.Known{AccountIDs: map[string]bool{}, PermissionSets: map[string]bool{}}
	resolver := &liveResolver{accounts: map[string]bool{}, permissionSets: map[string]bool{}}
	for _, a := range accounts {
		known.AccountIDs[a.ID] = true
		resolver.accounts[a.ID] = true
	}
	for _, p := range permSets {
		known.PermissionSets[p.Name] = true
		resolver.permissionSets[p.Name] = true
	}

	cfg, warnings, err := config.Load(doc, known, config.Getenv)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse approval config: %w", err)
	}
	for _, w := range warnings {
		logger.Printf("config warning: %s", w.Message)
	}
	return cfg, resolver, permSets, nil
}

// resolvePermissionSetArn looks up a permission set's ARN by its friendly
// name, since decision callbacks carry the name, not the ARN the SDK
// calls need.
func resolvePermissionSetArn(permSets []directory.PermissionSet, name string) (string, error) {
	for _, p := range permSets {
		if p.Name == name {
			return p.Arn, nil
		}
	}
	return "", fmt.Errorf("unknown permission set %q", name)
}

type liveResolver struct {
	accounts       map[string]bool
	permissionSets map[string]bool
}

func (r *liveResolver) AccountExists(id string) bool        { return r.accounts[id] }
func (r *liveResolver) PermissionSetExists(arn string) bool { return r.permissionSets[arn] }

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

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
