package notify

import (
	"log"
	"os"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func testLogger() *log.Logger { return log.New(os.Stderr, "test ", 0) }

func newTestNotifier(f *fakeSender, sendDM bool) *Notifier {
	return &Notifier{bot: f, mainChatID: 100, sendDMIfNotInChan: sendDM, logger: testLogger()}
}

func TestNewRequest_SendsToMainChannelWithButtons(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f, false)
	n.NewRequest("req-1", "alice@example.com", "111111111111", "ReadOnly", "debugging", []string{"bob@example.com"}, false, 0)

	if len(f.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.sent))
	}
	msg, ok := f.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent message has wrong type %T", f.sent[0])
	}
	if !strings.Contains(msg.Text, "alice@example.com") {
		t.Fatalf("message missing requester: %s", msg.Text)
	}
	if msg.ReplyMarkup == nil {
		t.Fatalf("expected inline keyboard buttons")
	}
}

func TestNewRequest_DMsRequesterWhenConfigured(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f, true)
	n.NewRequest("req-1", "alice@example.com", "111111111111", "ReadOnly", "", nil, false, 555)

	if len(f.sent) != 2 {
		t.Fatalf("sent = %d, want 2 (main channel + DM)", len(f.sent))
	}
}

func TestNewRequest_NoDMWhenNotConfigured(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f, false)
	n.NewRequest("req-1", "alice@example.com", "111111111111", "ReadOnly", "", nil, false, 555)

	if len(f.sent) != 1 {
		t.Fatalf("sent = %d, want 1 (DM disabled)", len(f.sent))
	}
}

func TestNewRequest_SecondaryDomainBanner(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f, false)
	n.NewRequest("req-1", "alice@example.com", "111111111111", "ReadOnly", "", nil, true, 0)

	msg := f.sent[0].(tgbotapi.MessageConfig)
	if !strings.Contains(msg.Text, "Fallback email domain") {
		t.Fatalf("expected secondary-domain warning banner, got: %s", msg.Text)
	}
}

func TestReconcilerWarning_SkippedWhenEmpty(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f, false)
	n.ReconcilerWarning(nil)
	if len(f.sent) != 0 {
		t.Fatalf("expected no message for an empty orphan list")
	}
}

func TestRevokeResult_SkippedWhenNotConfiguredAndNoError(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f, false)
	n.RevokeResult("alice@example.com", "111111111111", false, false, nil)
	if len(f.sent) != 0 {
		t.Fatalf("expected no message when post_update_on_revoke is false and there is no error")
	}
}

func TestRevokeResult_AlwaysSentOnError(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f, false)
	n.RevokeResult("alice@example.com", "111111111111", false, false, strings_errorsNew("boom"))
	if len(f.sent) != 1 {
		t.Fatalf("expected a message on revoke failure regardless of post_update_on_revoke")
	}
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func strings_errorsNew(s string) error { return simpleErr(s) }
