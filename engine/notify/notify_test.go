package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	contractx "github.com/ajudei/concierge/engine/contract"
)

type fakeMessenger struct {
	failFor map[string]error
	sent    []string
}

func (f *fakeMessenger) SendText(_ context.Context, _ contractx.MessagingCredentials, to, _ string) error {
	if err, ok := f.failFor[to]; ok {
		return err
	}
	f.sent = append(f.sent, to)
	return nil
}

func TestPublishFiltersByCategory(t *testing.T) {
	t.Parallel()

	messenger := &fakeMessenger{}
	fanout := NewFanout(messenger)

	targets := []contractx.NotificationTarget{
		{Category: contractx.CategoryResponses, ChatHandle: "111"},
		{Category: contractx.CategoryHandoff, ChatHandle: "222"},
		{Category: contractx.CategoryResponses, ChatHandle: "333"},
	}

	err := fanout.Publish(context.Background(), contractx.MessagingCredentials{}, targets, contractx.CategoryResponses, "resumo")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(messenger.sent) != 2 || messenger.sent[0] != "111" || messenger.sent[1] != "333" {
		t.Fatalf("unexpected recipients %v", messenger.sent)
	}
}

func TestPublishIsolatesTargetFailures(t *testing.T) {
	t.Parallel()

	messenger := &fakeMessenger{failFor: map[string]error{"111": errors.New("down")}}
	fanout := NewFanout(messenger)

	targets := []contractx.NotificationTarget{
		{Category: contractx.CategoryResponses, ChatHandle: "111"},
		{Category: contractx.CategoryResponses, ChatHandle: "222"},
	}

	err := fanout.Publish(context.Background(), contractx.MessagingCredentials{}, targets, contractx.CategoryResponses, "resumo")
	if !errors.Is(err, contractx.ErrNotification) {
		t.Fatalf("expected ErrNotification, got %v", err)
	}
	if len(messenger.sent) != 1 || messenger.sent[0] != "222" {
		t.Fatalf("remaining targets must still be delivered, got %v", messenger.sent)
	}
}

func TestPublishSkipsEmptyText(t *testing.T) {
	t.Parallel()

	messenger := &fakeMessenger{}
	fanout := NewFanout(messenger)

	err := fanout.Publish(context.Background(), contractx.MessagingCredentials{}, []contractx.NotificationTarget{
		{Category: contractx.CategoryResponses, ChatHandle: "111"},
	}, contractx.CategoryResponses, "   ")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(messenger.sent) != 0 {
		t.Fatal("empty summaries must not be sent")
	}
}

func TestStaffSummary(t *testing.T) {
	t.Parallel()

	got := StaffSummary("5511987654321@c.us", "tem mesa?", "Temos sim!")
	if !strings.Contains(got, "https://wa.me/5511987654321") {
		t.Fatalf("summary missing chat link: %q", got)
	}
	if !strings.Contains(got, "tem mesa?") || !strings.Contains(got, "Temos sim!") {
		t.Fatalf("summary missing dialogue: %q", got)
	}
}
