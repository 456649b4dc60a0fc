package turn

import (
	"fmt"
	"strings"
	"time"

	convx "github.com/ajudei/concierge/engine/conversation"
	tenantx "github.com/ajudei/concierge/engine/tenant"
)

// Placeholders the prompt body may reference. They are tenant-authored
// content, so unknown placeholders pass through untouched.
const (
	varReservationLink = "{{reservation_link}}"
	varCustomerHandle  = "{{customer_handle}}"
	varCurrentTime     = "{{current_time}}"
)

// buildInstructions assembles the system instructions for one model call:
// the current timestamp in the tenant's timezone, then the prompt body with
// its dynamic variables resolved. Fresh per turn, nothing is cached.
func buildInstructions(now time.Time, snap *tenantx.Snapshot, prompt *tenantx.PromptConfig, conv *convx.Conversation) string {
	localNow := now.In(snap.Location())
	stamp := localNow.Format("Monday, 02 January 2006, 15:04")

	body := prompt.Body
	replacer := strings.NewReplacer(
		varReservationLink, snap.ReservationLink(conv.Customer.UUID),
		varCustomerHandle, conv.Customer.ChatHandle,
		varCurrentTime, stamp,
	)
	body = replacer.Replace(body)

	var b strings.Builder
	fmt.Fprintf(&b, "Data e hora atual: %s.\n\n", stamp)
	b.WriteString(strings.TrimSpace(body))
	return b.String()
}
