package executor

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fivexl/sso-elevator/internal/model"
)

// standardRetry matches the teacher's dyadBootstrapWorkflow retry shape:
// a handful of attempts with exponential backoff, bounded.
func standardRetry() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	}
}

// noRetry is used for best-effort steps whose failure must not retry
// forever: notification and schedule cancellation (§5 "Notification
// failures: never block state transitions").
func noRetry() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// GrantAccountWorkflow implements §4.5's account grant steps: create the
// assignment, write an audit record, schedule the revocation, notify.
func GrantAccountWorkflow(ctx workflow.Context, in GrantAccountInput) error {
	createCtx := workflow.WithActivityOptions(ctx, standardRetry())
	createErr := workflow.ExecuteActivity(createCtx, ActivityCreateAccountAssignment, in).Get(ctx, nil)

	notifyCtx := workflow.WithActivityOptions(ctx, noRetry())
	if createErr != nil {
		_ = workflow.ExecuteActivity(notifyCtx, ActivityNotifyGrant, in, createErr.Error()).Get(ctx, nil)
		return createErr
	}

	auditRecord := model.AuditRecord{
		AuditEntryType:         model.AuditEntryAccount,
		OperationType:          model.OperationGrant,
		RequestID:              in.RequestID,
		AccountID:              in.AccountID,
		RequesterEmail:         in.RequesterEmail,
		ApproverEmail:          in.ApproverEmail,
		Reason:                 in.Reason,
		PermissionDuration:     in.Duration,
		SecondaryDomainWasUsed: in.SecondaryDomainWasUsed,
	}
	auditCtx := workflow.WithActivityOptions(ctx, standardRetry())
	if err := workflow.ExecuteActivity(auditCtx, ActivityWriteAudit, auditRecord).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("write grant audit record", "error", err)
	}

	if err := workflow.ExecuteActivity(auditCtx, ActivityScheduleRevocation, in).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("schedule revocation", "error", err)
	}

	_ = workflow.ExecuteActivity(notifyCtx, ActivityNotifyGrant, in, "").Get(ctx, nil)
	return nil
}

// RevokeAccountWorkflow implements the revoke side of §4.5: delete the
// assignment (idempotent on not-found), best-effort cancel the schedule,
// write audit, notify.
func RevokeAccountWorkflow(ctx workflow.Context, in RevokeAccountInput) error {
	deleteCtx := workflow.WithActivityOptions(ctx, standardRetry())
	deleteErr := workflow.ExecuteActivity(deleteCtx, ActivityDeleteAccountAssignment, in).Get(ctx, nil)

	notifyCtx := workflow.WithActivityOptions(ctx, noRetry())
	if deleteErr != nil {
		_ = workflow.ExecuteActivity(notifyCtx, ActivityNotifyRevoke, in, deleteErr.Error()).Get(ctx, nil)
		return deleteErr
	}

	_ = workflow.ExecuteActivity(notifyCtx, ActivityCancelSchedule, in).Get(ctx, nil)

	auditRecord := model.AuditRecord{
		AuditEntryType: model.AuditEntryAccount,
		OperationType:  model.OperationRevoke,
		RequestID:      in.RequestID,
		AccountID:      in.AccountID,
		RequesterEmail: in.RequesterEmail,
		Reason:         in.Reason,
	}
	auditCtx := workflow.WithActivityOptions(ctx, standardRetry())
	if err := workflow.ExecuteActivity(auditCtx, ActivityWriteAudit, auditRecord).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("write revoke audit record", "error", err)
	}

	_ = workflow.ExecuteActivity(notifyCtx, ActivityNotifyRevoke, in, "").Get(ctx, nil)
	return nil
}

// GrantGroupWorkflow is the group-membership form of GrantAccountWorkflow.
func GrantGroupWorkflow(ctx workflow.Context, in GrantGroupInput) error {
	createCtx := workflow.WithActivityOptions(ctx, standardRetry())
	notifyCtx := workflow.WithActivityOptions(ctx, noRetry())
	createErr := workflow.ExecuteActivity(createCtx, ActivityCreateGroupMembership, in).Get(ctx, nil)
	if createErr != nil {
		_ = workflow.ExecuteActivity(notifyCtx, ActivityNotifyGroupGrant, in, createErr.Error()).Get(ctx, nil)
		return createErr
	}

	auditRecord := model.AuditRecord{
		AuditEntryType:         model.AuditEntryGroup,
		OperationType:          model.OperationGrant,
		RequestID:              in.RequestID,
		GroupID:                in.GroupID,
		GroupName:              in.GroupName,
		RequesterEmail:         in.RequesterEmail,
		ApproverEmail:          in.ApproverEmail,
		Reason:                 in.Reason,
		PermissionDuration:     in.Duration,
		SecondaryDomainWasUsed: in.SecondaryDomainWasUsed,
	}
	auditCtx := workflow.WithActivityOptions(ctx, standardRetry())
	if err := workflow.ExecuteActivity(auditCtx, ActivityWriteAudit, auditRecord).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("write group grant audit record", "error", err)
	}
	if err := workflow.ExecuteActivity(auditCtx, ActivityScheduleGroupRevocation, in).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("schedule group revocation", "error", err)
	}
	_ = workflow.ExecuteActivity(notifyCtx, ActivityNotifyGroupGrant, in, "").Get(ctx, nil)
	return nil
}

// RevokeGroupWorkflow is the group-membership form of RevokeAccountWorkflow.
func RevokeGroupWorkflow(ctx workflow.Context, in RevokeGroupInput) error {
	deleteCtx := workflow.WithActivityOptions(ctx, standardRetry())
	notifyCtx := workflow.WithActivityOptions(ctx, noRetry())
	deleteErr := workflow.ExecuteActivity(deleteCtx, ActivityDeleteGroupMembership, in).Get(ctx, nil)
	if deleteErr != nil {
		_ = workflow.ExecuteActivity(notifyCtx, ActivityNotifyGroupRevoke, in, deleteErr.Error()).Get(ctx, nil)
		return deleteErr
	}

	_ = workflow.ExecuteActivity(notifyCtx, ActivityCancelGroupSchedule, in).Get(ctx, nil)

	auditRecord := model.AuditRecord{
		AuditEntryType: model.AuditEntryGroup,
		OperationType:  model.OperationRevoke,
		RequestID:      in.RequestID,
		GroupID:        in.GroupID,
		RequesterEmail: in.RequesterEmail,
		Reason:         in.Reason,
	}
	auditCtx := workflow.WithActivityOptions(ctx, standardRetry())
	if err := workflow.ExecuteActivity(auditCtx, ActivityWriteAudit, auditRecord).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("write group revoke audit record", "error", err)
	}
	_ = workflow.ExecuteActivity(notifyCtx, ActivityNotifyGroupRevoke, in, "").Get(ctx, nil)
	return nil
}
