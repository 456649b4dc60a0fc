package tenant

import (
	"context"
	"fmt"
	"strings"
	"time"

	contractx "github.com/ajudei/concierge/engine/contract"
)

type PromptKind string

const (
	// PromptPrincipal is the router configuration every turn starts from.
	// A tenant has exactly one active principal prompt.
	PromptPrincipal PromptKind = "principal"
	// PromptSpecialist configurations drive delegated narrower turns.
	PromptSpecialist PromptKind = "specialist"
)

// PromptConfig couples prompt text with the model and tool list it runs with.
type PromptConfig struct {
	Kind   PromptKind
	Name   string
	Body   string
	Model  string
	Tools  []contractx.ToolDef
	Active bool
}

// Snapshot is the full per-tenant configuration for one turn. It is resolved
// fresh on every turn; nothing here is cached across turns.
type Snapshot struct {
	ID                  int64
	Slug                string
	Production          bool
	Timezone            string
	ReservationLinkBase string

	ModelAPIKey string
	Messaging   contractx.MessagingCredentials

	Principal   *PromptConfig
	Specialists map[string]*PromptConfig

	Targets []contractx.NotificationTarget
}

// Source resolves tenant configuration. Implementations must not cache:
// configuration changes take effect on the next turn.
type Source interface {
	Resolve(ctx context.Context, tenantID int64) (*Snapshot, error)
}

// Specialist returns the named specialist prompt configuration.
func (s *Snapshot) Specialist(name string) (*PromptConfig, error) {
	cfg, ok := s.Specialists[strings.TrimSpace(name)]
	if !ok || cfg == nil {
		return nil, fmt.Errorf("%w: specialist prompt %q for tenant=%d", contractx.ErrConfigurationMissing, name, s.ID)
	}
	return cfg, nil
}

// TargetsFor filters notification targets by category.
func (s *Snapshot) TargetsFor(category contractx.Category) []contractx.NotificationTarget {
	var out []contractx.NotificationTarget
	for _, t := range s.Targets {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

// Location resolves the tenant timezone, falling back to UTC.
func (s *Snapshot) Location() *time.Location {
	if loc, err := time.LoadLocation(strings.TrimSpace(s.Timezone)); err == nil && loc != nil {
		return loc
	}
	return time.UTC
}

// ReservationLink builds the per-customer deep link injected into the
// instructions as a dynamic variable.
func (s *Snapshot) ReservationLink(customerUUID string) string {
	base := strings.TrimRight(strings.TrimSpace(s.ReservationLinkBase), "/")
	if base == "" || strings.TrimSpace(customerUUID) == "" {
		return ""
	}
	return base + "/" + customerUUID
}

// Validate enforces the invariants a turn relies on.
func (s *Snapshot) Validate() error {
	if s.Principal == nil || strings.TrimSpace(s.Principal.Body) == "" {
		return fmt.Errorf("%w: no active principal prompt for tenant=%d", contractx.ErrConfigurationMissing, s.ID)
	}
	if strings.TrimSpace(s.Principal.Model) == "" {
		return fmt.Errorf("%w: principal prompt has no model for tenant=%d", contractx.ErrConfigurationMissing, s.ID)
	}
	if strings.TrimSpace(s.ModelAPIKey) == "" {
		return fmt.Errorf("%w: no model credentials for tenant=%d", contractx.ErrConfigurationMissing, s.ID)
	}
	return nil
}
