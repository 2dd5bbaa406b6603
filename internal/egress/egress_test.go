package egress

import (
	"context"
	"errors"
	"testing"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/adapter"
)

type recordingAdapter struct {
	name      string
	sent      []string
	sendErr   error
	healthErr error
}

func (a *recordingAdapter) Name() string { return a.name }

func (a *recordingAdapter) Send(ctx context.Context, chatID int64, text string) error {
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent = append(a.sent, text)
	return nil
}

func (a *recordingAdapter) Health(ctx context.Context) error { return a.healthErr }

func TestSendMessage_PrimaryAndMirror(t *testing.T) {
	primary := &recordingAdapter{name: "telegram"}
	mirror := &recordingAdapter{name: "slack"}
	d := NewDispatcher(primary, []adapter.OutputAdapter{mirror})

	var observed []int64
	d.SetAfterSend(func(chatID int64, text string) { observed = append(observed, chatID) })

	if err := d.SendMessage(context.Background(), 7, "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(primary.sent) != 1 || primary.sent[0] != "hello" {
		t.Errorf("primary did not receive the message: %v", primary.sent)
	}
	if len(mirror.sent) != 1 || mirror.sent[0] != "hello" {
		t.Errorf("mirror did not receive the message: %v", mirror.sent)
	}
	if len(observed) != 1 || observed[0] != 7 {
		t.Errorf("after-send hook not invoked: %v", observed)
	}
}

func TestSendMessage_MirrorFailureIsSwallowed(t *testing.T) {
	primary := &recordingAdapter{name: "telegram"}
	mirror := &recordingAdapter{name: "slack", sendErr: errors.New("boom")}
	d := NewDispatcher(primary, []adapter.OutputAdapter{mirror})

	if err := d.SendMessage(context.Background(), 7, "hello"); err != nil {
		t.Fatalf("mirror failure should not surface: %v", err)
	}
	if len(primary.sent) != 1 {
		t.Errorf("primary should still deliver: %v", primary.sent)
	}
}

func TestSendMessage_PrimaryFailureSkipsMirrorsAndHook(t *testing.T) {
	primary := &recordingAdapter{name: "telegram", sendErr: errors.New("down")}
	mirror := &recordingAdapter{name: "slack"}
	d := NewDispatcher(primary, []adapter.OutputAdapter{mirror})

	hookCalled := false
	d.SetAfterSend(func(chatID int64, text string) { hookCalled = true })

	if err := d.SendMessage(context.Background(), 7, "hello"); err == nil {
		t.Fatal("expected error when primary send fails")
	}
	if len(mirror.sent) != 0 {
		t.Errorf("mirrors should not run after a primary failure: %v", mirror.sent)
	}
	if hookCalled {
		t.Error("after-send hook should not run after a primary failure")
	}
}

func TestHealth_ReportsUnhealthyAdapters(t *testing.T) {
	primary := &recordingAdapter{name: "telegram"}
	mirror := &recordingAdapter{name: "slack", healthErr: errors.New("auth failed")}
	d := NewDispatcher(primary, []adapter.OutputAdapter{mirror})

	if err := d.Health(context.Background()); err == nil {
		t.Fatal("expected unhealthy mirror to surface in Health")
	}

	healthy := NewDispatcher(primary, nil)
	if err := healthy.Health(context.Background()); err != nil {
		t.Fatalf("Health returned error: %v", err)
	}
}
