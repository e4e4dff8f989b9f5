// Package notify implements C11: composing and sending chat messages for
// every user-visible event in the system. Notification failures never
// block a state transition (§5 "Notification failures: never block state
// transitions; logged").
//
// Grounded on the teacher's agents/telegram-bot/main.go notifier/button/
// notifyPayload shapes, switched from that agent's HTTP-relay design to a
// direct tgbotapi.BotAPI client since this package has no sibling HTTP
// service to delegate to.
package notify

import (
	"fmt"
	"html"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the narrow slice of *tgbotapi.BotAPI this package depends on,
// so tests can substitute a fake instead of hitting the Telegram API.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends composed messages to a main channel and, optionally, to a
// requester's direct message thread.
type Notifier struct {
	bot               sender
	mainChatID        int64
	sendDMIfNotInChan bool
	logger            *log.Logger
}

// New constructs a Notifier around an already-authenticated bot client.
func New(bot *tgbotapi.BotAPI, mainChatID int64, sendDMIfNotInChan bool, logger *log.Logger) *Notifier {
	return &Notifier{bot: bot, mainChatID: mainChatID, sendDMIfNotInChan: sendDMIfNotInChan, logger: logger}
}

// SetSendDMIfNotInChan updates the DM-fallback knob, since the runtime
// configuration that governs it is reloaded per invocation while the
// Notifier/bot client is constructed once per process.
func (n *Notifier) SetSendDMIfNotInChan(v bool) { n.sendDMIfNotInChan = v }

// Button is one inline keyboard action (approve/deny).
type Button struct {
	Text string
	Data string
}

// send delivers html to the main channel, and additionally DMs
// requesterChatID when configured and non-zero (§4.11 "Direct-messages a
// requester when they are not in the main chat channel").
func (n *Notifier) send(html string, buttons []Button, requesterChatID int64) {
	n.deliver(n.mainChatID, html, buttons)
	if n.sendDMIfNotInChan && requesterChatID != 0 && requesterChatID != n.mainChatID {
		n.deliver(requesterChatID, html, nil)
	}
}

func (n *Notifier) deliver(chatID int64, body string, buttons []Button) {
	msg := tgbotapi.NewMessage(chatID, body)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if len(buttons) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
		for _, b := range buttons {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Printf("notify: send to chat %d failed (ignored): %v", chatID, err)
	}
}

func secondaryDomainBanner(secondaryDomainUsed bool) string {
	if !secondaryDomainUsed {
		return ""
	}
	return "⚠️ <b>Fallback email domain was used to resolve this requester.</b>\n"
}

// NewRequest composes the "new access request" message, tagging approvers
// and attaching Approve/Deny buttons.
func (n *Notifier) NewRequest(requestID, requesterEmail, resource, permissionSet, reason string, approvers []string, secondaryDomainUsed bool, requesterChatID int64) {
	var b strings.Builder
	b.WriteString(secondaryDomainBanner(secondaryDomainUsed))
	b.WriteString("\U0001F514 <b>Access request</b>\n")
	b.WriteString("<b>Requester:</b> " + html.EscapeString(requesterEmail) + "\n")
	b.WriteString("<b>Resource:</b> " + html.EscapeString(resource) + "\n")
	b.WriteString("<b>Permission set:</b> " + html.EscapeString(permissionSet) + "\n")
	if reason != "" {
		b.WriteString("<b>Reason:</b> " + html.EscapeString(reason) + "\n")
	}
	if len(approvers) > 0 {
		b.WriteString("<b>Approvers:</b> " + html.EscapeString(strings.Join(approvers, ", ")) + "\n")
	}
	n.send(b.String(), []Button{
		{Text: "Approve", Data: "approve:" + requestID},
		{Text: "Deny", Data: "deny:" + requestID},
	}, requesterChatID)
}

// Renotify composes an approver reminder (§4.7 renotification cadence).
func (n *Notifier) Renotify(requestID, requesterEmail, resource string, approvers []string, secondaryDomainUsed bool) {
	var b strings.Builder
	b.WriteString(secondaryDomainBanner(secondaryDomainUsed))
	b.WriteString("⏰ <b>Reminder: pending access request</b>\n")
	b.WriteString("<b>Requester:</b> " + html.EscapeString(requesterEmail) + "\n")
	b.WriteString("<b>Resource:</b> " + html.EscapeString(resource) + "\n")
	b.WriteString("<b>Approvers:</b> " + html.EscapeString(strings.Join(approvers, ", ")) + "\n")
	n.send(b.String(), []Button{
		{Text: "Approve", Data: "approve:" + requestID},
		{Text: "Deny", Data: "deny:" + requestID},
	}, 0)
}

// Decided composes the approval/denial outcome message.
func (n *Notifier) Decided(requestID, approverEmail, resource string, approved bool, secondaryDomainUsed bool, requesterChatID int64) {
	verb := "denied"
	emoji := "❌"
	if approved {
		verb = "approved"
		emoji = "✅"
	}
	var b strings.Builder
	b.WriteString(secondaryDomainBanner(secondaryDomainUsed))
	b.WriteString(fmt.Sprintf("%s <b>Request %s</b>\n<b>Resource:</b> %s\n<b>By:</b> %s", emoji, verb, html.EscapeString(resource), html.EscapeString(approverEmail)))
	n.send(b.String(), nil, requesterChatID)
}

// GrantResult composes the grant success/failure message.
func (n *Notifier) GrantResult(requesterEmail, resource string, secondaryDomainUsed bool, err error, requesterChatID int64) {
	var b strings.Builder
	b.WriteString(secondaryDomainBanner(secondaryDomainUsed))
	if err != nil {
		b.WriteString("\U0001F6A8 <b>Grant failed</b>\n<b>Resource:</b> " + html.EscapeString(resource) + "\n<b>Error:</b> " + html.EscapeString(err.Error()))
	} else {
		b.WriteString("✅ <b>Access granted</b>\n<b>Requester:</b> " + html.EscapeString(requesterEmail) + "\n<b>Resource:</b> " + html.EscapeString(resource))
	}
	n.send(b.String(), nil, requesterChatID)
}

// RevokeResult composes the scheduled/manual revocation message.
func (n *Notifier) RevokeResult(requesterEmail, resource string, manual bool, postUpdate bool, err error) {
	if !postUpdate && err == nil {
		return
	}
	trigger := "Scheduled"
	if manual {
		trigger = "Manual"
	}
	var b strings.Builder
	if err != nil {
		b.WriteString("\U0001F6A8 <b>" + trigger + " revoke failed</b>\n<b>Resource:</b> " + html.EscapeString(resource) + "\n<b>Error:</b> " + html.EscapeString(err.Error()))
	} else {
		b.WriteString("ℹ️ <b>" + trigger + " revoke</b>\n<b>Requester:</b> " + html.EscapeString(requesterEmail) + "\n<b>Resource:</b> " + html.EscapeString(resource))
	}
	n.send(b.String(), nil, 0)
}

// ReconcilerWarning composes the warn-sweep summary (§4.8): lists orphaned
// assignments without mutating anything.
func (n *Notifier) ReconcilerWarning(orphanedDescriptions []string) {
	if len(orphanedDescriptions) == 0 {
		return
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⚠️ <b>Reconciler: %d orphaned assignment(s)</b>\n", len(orphanedDescriptions)))
	for _, d := range orphanedDescriptions {
		b.WriteString("- " + html.EscapeString(d) + "\n")
	}
	n.send(b.String(), nil, 0)
}

// SyncSummary composes the attribute syncer's end-of-run summary (§4.9):
// add/remove/warn counts plus the first N errors.
func (n *Notifier) SyncSummary(added, removed, warned int, firstErrors []string) {
	var b strings.Builder
	b.WriteString("\U0001F501 <b>Group sync summary</b>\n")
	b.WriteString(fmt.Sprintf("Added: %d · Removed: %d · Warned: %d\n", added, removed, warned))
	if len(firstErrors) > 0 {
		b.WriteString("<b>Errors:</b>\n")
		for _, e := range firstErrors {
			b.WriteString("- " + html.EscapeString(e) + "\n")
		}
	}
	n.send(b.String(), nil, 0)
}
