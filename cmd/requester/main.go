// Command requester is the Lambda entrypoint for new access requests: it
// verifies the inbound chat signature, decodes the submission, resolves
// the requester and the requested resource, evaluates policy, and either
// auto-approves (kicking off a grant) or publishes the request to
// approvers.
//
// Grounded on the teacher's agents/critic/cmd/critic/main.go startup
// shape: env-driven config, a std logger, a single long-lived client set
// built once at process start.
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

var logger = log.New(os.Stdout, "requester ", log.LstdFlags|log.LUTC)

type handler struct {
	dir              *directory.Client
	store            objectstore.Store
	configBucket     string
	temporal         client.Client
	notifier         *notify.Notifier
	sched            *scheduler.Client
	renotifierArn    string
	schedulerRoleArn string
	signingSecret    []byte
}

// Event is the raw inbound Lambda payload: a signature header plus the
// signed body.
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
		dir:              dir,
		store:            store,
		configBucket:     configBucket,
		temporal:         temporalClient,
		notifier:         notify.New(bot, mainChatID, false, logger),
		sched:            sched,
		renotifierArn:    renotifierArn,
		schedulerRoleArn: schedulerRoleArn,
		signingSecret:    []byte(mustEnv("CHAT_SIGNING_SECRET")),
	}, nil
}

func (h *handler) handle(ctx context.Context, event Event) (status.Result, error) {
	var collector status.Collector

	ev, err := chatinbound.ParseSubmission([]byte(event.Body), []byte(event.SignatureHeader), h.signingSecret)
	if err != nil {
		collector.Add(fmt.Errorf("reject unsigned/malformed submission: %w", err))
		return collector.Result(), nil
	}

	cfg, resolver, permSets, err := h.loadConfiguration(ctx)
	if err != nil {
		collector.Add(err)
		return collector.Result(), nil
	}
	h.notifier.SetSendDMIfNotInChan(cfg.Runtime.SendDMIfUserNotInChannel)

	resolvedUser, err := h.dir.LookupUserByEmail(ctx, ev.RequesterEmail, cfg.Runtime.SecondaryFallbackEmailDomains)
	if err != nil {
		collector.Add(fmt.Errorf("resolve requester: %w", err))
		return collector.Result(), nil
	}

	req := ev
	decisionReq := policy.Request{
		RequesterEmail:    req.RequesterEmail,
		Resource:          req.Resource,
		ResourceKind:      req.ResourceKind,
		PermissionSetName: req.PermissionSetName,
	}
	decision := policy.Evaluate(decisionReq, cfg, resolver)
	if decision.Permit == policy.PermitDeny {
		collector.Addf("request %s/%s denied: %s", req.Resource, req.PermissionSetName, decision.Reason)
		return collector.Result(), nil
	}
	if decision.Unsatisfiable {
		collector.Addf("request %s/%s denied: the only approver is the requester and self-approval is not allowed", req.Resource, req.PermissionSetName)
		return collector.Result(), nil
	}

	requestID := newRequestID()
	access := ev.ToAccessRequest(requestID, time.Now().UTC())
	autoApprove := decision.Permit == policy.PermitAuto
	access = request.Submit(access, autoApprove)

	if access.State == model.StatePending {
		h.notifier.NewRequest(requestID, req.RequesterEmail, req.Resource, req.PermissionSetName, req.Reason, decision.Approvers, resolvedUser.SecondaryDomainWasUsed, req.RequesterChatID)
		if err := h.scheduleRenotify(ctx, requestID, access, decision.Approvers, resolvedUser.SecondaryDomainWasUsed, cfg); err != nil {
			collector.Add(fmt.Errorf("schedule renotification: %w", err))
		}
		return collector.Result(), nil
	}

	if err := h.startGrant(ctx, requestID, access, resolvedUser, cfg, permSets, req.RequesterChatID); err != nil {
		collector.Add(fmt.Errorf("start grant workflow: %w", err))
	}
	return collector.Result(), nil
}

func (h *handler) startGrant(ctx context.Context, requestID string, access model.AccessRequest, user directory.ResolvedUser, cfg *config.Configuration, permSets []directory.PermissionSet, requesterChatID int64) error {
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
			RequestID:              requestID,
			RequesterEmail:         access.RequesterEmail,
			ApproverEmail:          access.ApproverEmail,
			PrincipalID:            user.ID,
			AccountID:              access.Resource,
			PermissionSetArn:       permissionSetArn,
			RoleName:               access.PermissionSetName,
			Reason:                 access.Reason,
			Duration:               duration,
			SecondaryDomainWasUsed: user.SecondaryDomainWasUsed,
			RequesterChatID:        requesterChatID,
		}
		_, err = h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: executor.TaskQueue}, executor.GrantAccountWorkflow, input)
		return err
	case model.ResourceGroup:
		group, err := h.dir.DescribeGroupByName(ctx, access.Resource)
		if err != nil {
			return fmt.Errorf("resolve group %s: %w", access.Resource, err)
		}
		input := executor.GrantGroupInput{
			RequestID:              requestID,
			RequesterEmail:         access.RequesterEmail,
			ApproverEmail:          access.ApproverEmail,
			PrincipalID:            user.ID,
			GroupID:                group.ID,
			GroupName:              access.Resource,
			Reason:                 access.Reason,
			Duration:               duration,
			SecondaryDomainWasUsed: user.SecondaryDomainWasUsed,
			RequesterChatID:        requesterChatID,
		}
		_, err = h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: executor.TaskQueue}, executor.GrantGroupWorkflow, input)
		return err
	default:
		return fmt.Errorf("unknown resource kind %q", access.ResourceKind)
	}
}

// scheduleRenotify creates the first approver reminder (§4.7), reusing C6
// rather than a separate timer primitive. The request's renotify chain is
// continued by cmd/renotifier and cancelled by cmd/approvals once a
// decision lands.
func (h *handler) scheduleRenotify(ctx context.Context, requestID string, access model.AccessRequest, approvers []string, secondaryDomainWasUsed bool, cfg *config.Configuration) error {
	if cfg.Runtime.ApproverRenotificationInitialWait <= 0 {
		return nil
	}
	fireAt := access.CreatedAt.Add(cfg.Runtime.ApproverRenotificationInitialWait)
	payload := scheduler.RenotifyPayload{
		RequestID:              requestID,
		RequesterEmail:         access.RequesterEmail,
		Resource:               access.Resource,
		Approvers:              approvers,
		SubmittedAtUnix:        access.CreatedAt.Unix(),
		RenotifyIndex:          0,
		SecondaryDomainWasUsed: secondaryDomainWasUsed,
	}
	name := scheduler.RenotifyName(requestID)
	return h.sched.CreateRenotifyOneShot(ctx, name, fireAt, h.renotifierArn, h.schedulerRoleArn, payload)
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
// name, since chat submissions and decision callbacks carry the name, not
// the ARN the SDK calls need.
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

func newRequestID() string {
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
