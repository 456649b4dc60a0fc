// Package notify fans staff-facing summaries out to the recipients a tenant
// configured per category. Delivery failures are logged and isolated per
// target; they never roll back stored state or block other targets.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/ajudei/concierge/engine/contract"
)

// Fanout delivers through the generic outbound messenger.
type Fanout struct {
	messenger contractx.Messenger
}

var _ contractx.Notifier = (*Fanout)(nil)

func NewFanout(messenger contractx.Messenger) *Fanout {
	return &Fanout{messenger: messenger}
}

func (f *Fanout) Publish(ctx context.Context, creds contractx.MessagingCredentials, targets []contractx.NotificationTarget, category contractx.Category, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var failed int
	for _, target := range targets {
		if target.Category != category {
			continue
		}
		if err := f.messenger.SendText(ctx, creds, target.ChatHandle, text); err != nil {
			failed++
			log.Error().
				Err(err).
				Str("category", string(category)).
				Str("target", target.ChatHandle).
				Msg("staff notification failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d target(s) in category=%s", contractx.ErrNotification, failed, category)
	}
	return nil
}

// StaffSummary composes the card staff receive after a finalized turn: the
// customer's last utterance, the assistant answer, and a direct chat link.
func StaffSummary(customerHandle, userText, assistantText string) string {
	var b strings.Builder
	b.WriteString("*Nova interação*\n")
	if number := waNumber(customerHandle); number != "" {
		fmt.Fprintf(&b, "Cliente: https://wa.me/%s\n", number)
	}
	if strings.TrimSpace(userText) != "" {
		fmt.Fprintf(&b, "\nCliente disse:\n%s\n", strings.TrimSpace(userText))
	}
	fmt.Fprintf(&b, "\nAssistente respondeu:\n%s", strings.TrimSpace(assistantText))
	return b.String()
}

// waNumber strips provider suffixes like "@c.us" from a chat handle.
func waNumber(handle string) string {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return ""
	}
	if i := strings.IndexByte(handle, '@'); i >= 0 {
		handle = handle[:i]
	}
	return handle
}
