// Command reconciler is the scheduled Lambda entrypoint for C8: it finds
// user-level account assignments no live ScheduledRevocation governs and
// either reports them (warn mode) or revokes them (revoke mode), per the
// RECONCILER_MODE environment variable.
//
// Grounded on the teacher's agents/critic/cmd/critic/main.go startup
// shape: a periodic pass invoked on a schedule rather than per-event.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.temporal.io/sdk/client"

	"github.com/fivexl/sso-elevator/internal/awsclients"
	"github.com/fivexl/sso-elevator/internal/config"
	"github.com/fivexl/sso-elevator/internal/directory"
	"github.com/fivexl/sso-elevator/internal/executor"
	"github.com/fivexl/sso-elevator/internal/notify"
	"github.com/fivexl/sso-elevator/internal/objectstore"
	schedulerpkg "github.com/fivexl/sso-elevator/internal/scheduler"
	"github.com/fivexl/sso-elevator/internal/reconciler"
	"github.com/fivexl/sso-elevator/internal/status"
)

var logger = log.New(os.Stdout, "reconciler ", log.LstdFlags|log.LUTC)

type handler struct {
	dir          *directory.Client
	sched        *schedulerpkg.Client
	store        objectstore.Store
	configBucket string
	temporal     client.Client
	notifier     *notify.Notifier
	revoke       bool
}

// Event is the scheduled trigger's payload; empty today, kept so the
// handler signature can grow without breaking the Lambda's invocation
// shape.
type Event struct{}

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
	scheduleGroup := mustEnv("SCHEDULE_GROUP_NAME")
	revokerTargetArn := mustEnv("REVOKER_TARGET_ARN")
	schedulerRoleArn := mustEnv("SCHEDULER_ROLE_ARN")
	temporalAddress := envOr("TEMPORAL_ADDRESS", "localhost:7233")
	temporalNamespace := envOr("TEMPORAL_NAMESPACE", "default")
	telegramToken := mustEnv("TELEGRAM_BOT_TOKEN")
	mainChatID, err := parseInt64(mustEnv("TELEGRAM_CHAT_ID"))
	if err != nil {
		return nil, err
	}

	dir := directory.New(clients.SSOAdmin, clients.IdentityStore, clients.Organizations, instanceARN, identityStoreID)
	store := objectstore.New(clients.S3)
	sched := schedulerpkg.New(clients.Scheduler, scheduleGroup, revokerTargetArn, schedulerRoleArn)

	temporalClient, err := client.Dial(client.Options{HostPort: temporalAddress, Namespace: temporalNamespace})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	bot, err := tgbotapi.NewBotAPI(telegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	return &handler{
		dir:          dir,
		sched:        sched,
		store:        store,
		configBucket: configBucket,
		temporal:     temporalClient,
		notifier:     notify.New(bot, mainChatID, false, logger),
		revoke:       envOr("RECONCILER_MODE", "warn") == "revoke",
	}, nil
}

func (h *handler) handle(ctx context.Context, _ Event) (status.Result, error) {
	var collector status.Collector

	doc, err := h.store.Get(ctx, h.configBucket, "config/approval-config.json")
	if err != nil {
		collector.Add(fmt.Errorf("load approval config: %w", err))
		return collector.Result(), nil
	}
	accounts, err := h.dir.ListAccounts(ctx)
	if err != nil {
		collector.Add(fmt.Errorf("list accounts: %w", err))
		return collector.Result(), nil
	}
	permSets, err := h.dir.ListPermissionSets(ctx)
	if err != nil {
		collector.Add(fmt.Errorf("list permission sets: %w", err))
		return collector.Result(), nil
	}
	known := config.Known{AccountIDs: map[string]bool{}, PermissionSets: map[string]bool{}}
	for _, a := range accounts {
		known.AccountIDs[a.ID] = true
	}
	for _, p := range permSets {
		known.PermissionSets[p.Name] = true
	}
	cfg, warnings, err := config.Load(doc, known, config.Getenv)
	if err != nil {
		collector.Add(fmt.Errorf("parse approval config: %w", err))
		return collector.Result(), nil
	}
	for _, w := range warnings {
		logger.Printf("config warning: %s", w.Message)
	}

	orphans, errs := reconciler.FindOrphans(ctx, h.dir, h.sched, permSets, cfg)
	for _, e := range errs {
		collector.Add(e)
	}

	if !h.revoke {
		descriptions := make([]string, 0, len(orphans))
		for _, o := range orphans {
			descriptions = append(descriptions, o.String())
		}
		h.notifier.ReconcilerWarning(descriptions)
		return collector.Result(), nil
	}

	reconciler.RevokeSweep(ctx, orphans, h.startRevoke, func(o reconciler.Orphan, err error) {
		collector.Addf("revoke %s: %v", o, err)
	})
	return collector.Result(), nil
}

func (h *handler) startRevoke(ctx context.Context, in executor.RevokeAccountInput) error {
	_, err := h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: executor.TaskQueue}, executor.RevokeAccountWorkflow, in)
	return err
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

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
