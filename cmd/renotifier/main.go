// Command renotifier is the Lambda entrypoint EventBridge Scheduler
// invokes directly with a scheduler.RenotifyPayload when an approver
// reminder comes due (§4.7). It re-sends the reminder and, unless the
// request would already have expired, reschedules the next reminder in
// the backoff series. The requester entrypoint creates the first
// schedule; cmd/approvals cancels it once a decision lands.
//
// Grounded on the teacher's agents/manager/cmd/worker/main.go client
// wiring, mirroring cmd/revoker's direct-payload Lambda shape.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fivexl/sso-elevator/internal/awsclients"
	"github.com/fivexl/sso-elevator/internal/config"
	"github.com/fivexl/sso-elevator/internal/notify"
	"github.com/fivexl/sso-elevator/internal/objectstore"
	"github.com/fivexl/sso-elevator/internal/request"
	"github.com/fivexl/sso-elevator/internal/scheduler"
	"github.com/fivexl/sso-elevator/internal/status"
)

var logger = log.New(os.Stdout, "renotifier ", log.LstdFlags|log.LUTC)

type handler struct {
	store         objectstore.Store
	configBucket  string
	notifier      *notify.Notifier
	sched         *scheduler.Client
	renotifierArn string
	schedulerRole string
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
	configBucket := mustEnv("CONFIG_BUCKET")
	telegramToken := mustEnv("TELEGRAM_BOT_TOKEN")
	mainChatID, err := parseInt64(mustEnv("TELEGRAM_CHAT_ID"))
	if err != nil {
		return nil, err
	}
	scheduleGroup := mustEnv("SCHEDULE_GROUP_NAME")
	renotifierArn := mustEnv("RENOTIFIER_TARGET_ARN")
	schedulerRoleArn := mustEnv("SCHEDULER_ROLE_ARN")

	store := objectstore.New(clients.S3)
	sched := scheduler.New(clients.Scheduler, scheduleGroup, renotifierArn, schedulerRoleArn)

	bot, err := tgbotapi.NewBotAPI(telegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	return &handler{
		store:         store,
		configBucket:  configBucket,
		notifier:      notify.New(bot, mainChatID, false, logger),
		sched:         sched,
		renotifierArn: renotifierArn,
		schedulerRole: schedulerRoleArn,
	}, nil
}

func (h *handler) handle(ctx context.Context, payload scheduler.RenotifyPayload) (status.Result, error) {
	var collector status.Collector

	cfg, err := h.loadRuntimeConfig(ctx)
	if err != nil {
		collector.Add(err)
		return collector.Result(), nil
	}

	submittedAt := time.Unix(payload.SubmittedAtUnix, 0).UTC()
	expiresAt := submittedAt.Add(time.Duration(cfg.RequestExpirationHours) * time.Hour)
	if !time.Now().UTC().Before(expiresAt) {
		// The request has expired; the reconciler/request state machine
		// handles the Pending -> Expired transition, this schedule simply
		// does not renew.
		return collector.Result(), nil
	}

	h.notifier.Renotify(payload.RequestID, payload.RequesterEmail, payload.Resource, payload.Approvers, payload.SecondaryDomainWasUsed)

	nextIndex := payload.RenotifyIndex + 1
	nextFireAt := request.NextRenotifyAt(submittedAt, cfg.ApproverRenotificationInitialWait, cfg.ApproverRenotificationBackoffFactor, nextIndex)
	if !nextFireAt.Before(expiresAt) {
		return collector.Result(), nil
	}

	next := payload
	next.RenotifyIndex = nextIndex
	name := scheduler.RenotifyName(payload.RequestID)
	if err := h.sched.CreateRenotifyOneShot(ctx, name, nextFireAt, h.renotifierArn, h.schedulerRole, next); err != nil {
		collector.Add(fmt.Errorf("reschedule renotification for %s: %w", payload.RequestID, err))
	}
	return collector.Result(), nil
}

func (h *handler) loadRuntimeConfig(ctx context.Context) (config.Runtime, error) {
	doc, err := h.store.Get(ctx, h.configBucket, "config/approval-config.json")
	if err != nil {
		return config.Runtime{}, fmt.Errorf("load approval config: %w", err)
	}
	cfg, warnings, err := config.Load(doc, config.Known{}, config.Getenv)
	if err != nil {
		return config.Runtime{}, fmt.Errorf("parse approval config: %w", err)
	}
	for _, w := range warnings {
		logger.Printf("config warning: %s", w.Message)
	}
	return cfg.Runtime, nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatalf("missing required environment variable %s", key)
	}
	return v
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
