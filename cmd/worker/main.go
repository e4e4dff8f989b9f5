// Command worker runs the Temporal worker process that executes C5's
// grant/revoke workflows and activities. The requester, approvals,
// revoker, and reconciler entrypoints only start these workflows; this
// process is what actually drives them to completion.
//
// Grounded on the teacher's agents/manager/cmd/worker/main.go: client.Dial,
// worker.New, RegisterWorkflow per workflow function, RegisterActivity on
// one activities struct, then w.Run(worker.InterruptCh()).
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/fivexl/sso-elevator/internal/audit"
	"github.com/fivexl/sso-elevator/internal/awsclients"
	"github.com/fivexl/sso-elevator/internal/directory"
	"github.com/fivexl/sso-elevator/internal/executor"
	"github.com/fivexl/sso-elevator/internal/notify"
	"github.com/fivexl/sso-elevator/internal/objectstore"
	"github.com/fivexl/sso-elevator/internal/scheduler"
)

var logger = log.New(os.Stdout, "executor-worker ", log.LstdFlags|log.LUTC)

func main() {
	ctx := context.Background()

	addr := envOr("TEMPORAL_ADDRESS", "localhost:7233")
	namespace := envOr("TEMPORAL_NAMESPACE", "default")
	taskQueue := envOr("TEMPORAL_TASK_QUEUE", executor.TaskQueue)

	c, err := client.Dial(client.Options{HostPort: addr, Namespace: namespace})
	if err != nil {
		logger.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	clients, err := awsclients.Load(ctx)
	if err != nil {
		logger.Fatalf("aws clients: %v", err)
	}

	instanceARN := mustEnv("SSO_INSTANCE_ARN")
	identityStoreID := mustEnv("IDENTITY_STORE_ID")
	configBucket := mustEnv("CONFIG_BUCKET")
	auditBucket := envOr("AUDIT_BUCKET", configBucket)
	scheduleGroup := mustEnv("SCHEDULE_GROUP_NAME")
	revokerTargetArn := mustEnv("REVOKER_TARGET_ARN")
	schedulerRoleArn := mustEnv("SCHEDULER_ROLE_ARN")
	telegramToken := mustEnv("TELEGRAM_BOT_TOKEN")
	mainChatID, err := parseInt64(mustEnv("TELEGRAM_CHAT_ID"))
	if err != nil {
		logger.Fatalf("TELEGRAM_CHAT_ID: %v", err)
	}

	dir := directory.New(clients.SSOAdmin, clients.IdentityStore, clients.Organizations, instanceARN, identityStoreID)
	store := objectstore.New(clients.S3)
	sched := scheduler.New(clients.Scheduler, scheduleGroup, revokerTargetArn, schedulerRoleArn)
	auditWriter := audit.New(store, auditBucket, envOr("AUDIT_PREFIX", "audit"))

	bot, err := tgbotapi.NewBotAPI(telegramToken)
	if err != nil {
		logger.Fatalf("telegram bot: %v", err)
	}
	notifier := notify.New(bot, mainChatID, boolEnv("SEND_DM_IF_USER_NOT_IN_CHANNEL", false), logger)

	activities := &executor.Activities{
		Directory:          dir,
		Scheduler:          sched,
		Audit:              auditWriter,
		Notifier:           notifier,
		PostUpdateOnRevoke: boolEnv("POST_UPDATE_ON_REVOKE", true),
	}

	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(executor.GrantAccountWorkflow)
	w.RegisterWorkflow(executor.RevokeAccountWorkflow)
	w.RegisterWorkflow(executor.GrantGroupWorkflow)
	w.RegisterWorkflow(executor.RevokeGroupWorkflow)
	w.RegisterActivity(activities)

	logger.Printf("worker started (task queue: %s)", taskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatalf("worker error: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatalf("missing required environment variable %s", key)
	}
	return v
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
