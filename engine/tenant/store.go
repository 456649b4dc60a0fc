package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	contractx "github.com/ajudei/concierge/engine/contract"
)

type tenantRow struct {
	bun.BaseModel `bun:"table:tenants,alias:t"`

	ID                  int64  `bun:"id,pk"`
	Slug                string `bun:"slug"`
	Production          bool   `bun:"production"`
	Timezone            string `bun:"timezone"`
	ReservationLinkBase string `bun:"reservation_link_base"`

	Credentials *credentialRow `bun:"rel:has-one,join:id=tenant_id"`
	Prompts     []*promptRow   `bun:"rel:has-many,join:id=tenant_id"`
	Targets     []*targetRow   `bun:"rel:has-many,join:id=tenant_id"`
}

type credentialRow struct {
	bun.BaseModel `bun:"table:tenant_credentials,alias:tc"`

	TenantID          int64  `bun:"tenant_id,pk"`
	ModelAPIKey       string `bun:"model_api_key"`
	MessagingProvider string `bun:"messaging_provider"`
	MessagingToken    string `bun:"messaging_token"`
	MessagingSenderID string `bun:"messaging_sender_id"`
}

type promptRow struct {
	bun.BaseModel `bun:"table:tenant_prompts,alias:tp"`

	ID       int64               `bun:"id,pk"`
	TenantID int64               `bun:"tenant_id"`
	Kind     string              `bun:"kind"`
	Name     string              `bun:"name"`
	Body     string              `bun:"body"`
	Model    string              `bun:"model"`
	Tools    []contractx.ToolDef `bun:"tools,type:jsonb"`
	Active   bool                `bun:"active"`
}

type targetRow struct {
	bun.BaseModel `bun:"table:notification_targets,alias:nt"`

	ID         int64  `bun:"id,pk"`
	TenantID   int64  `bun:"tenant_id"`
	Category   string `bun:"category"`
	ChatHandle string `bun:"chat_handle"`
}

// PgSource reads tenant configuration from Postgres. Every Resolve hits the
// database so configuration edits apply on the next turn.
type PgSource struct {
	db *bun.DB
}

var _ Source = (*PgSource)(nil)

func NewPgSource(db *bun.DB) *PgSource {
	return &PgSource{db: db}
}

func (s *PgSource) Resolve(ctx context.Context, tenantID int64) (*Snapshot, error) {
	row := new(tenantRow)
	err := s.db.NewSelect().
		Model(row).
		Relation("Credentials").
		Relation("Prompts").
		Relation("Targets").
		Where("t.id = ?", tenantID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tenant=%d not found", contractx.ErrConfigurationMissing, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tenant=%d: %w", tenantID, err)
	}

	snap, err := buildSnapshot(row)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func buildSnapshot(row *tenantRow) (*Snapshot, error) {
	snap := &Snapshot{
		ID:                  row.ID,
		Slug:                row.Slug,
		Production:          row.Production,
		Timezone:            row.Timezone,
		ReservationLinkBase: row.ReservationLinkBase,
		Specialists:         make(map[string]*PromptConfig),
	}

	if row.Credentials != nil {
		snap.ModelAPIKey = strings.TrimSpace(row.Credentials.ModelAPIKey)
		snap.Messaging = contractx.MessagingCredentials{
			Provider: contractx.MessagingProvider(row.Credentials.MessagingProvider),
			Token:    strings.TrimSpace(row.Credentials.MessagingToken),
			SenderID: strings.TrimSpace(row.Credentials.MessagingSenderID),
		}
	}

	for _, p := range row.Prompts {
		if p == nil || !p.Active {
			continue
		}
		cfg := &PromptConfig{
			Kind:   PromptKind(p.Kind),
			Name:   p.Name,
			Body:   p.Body,
			Model:  p.Model,
			Tools:  p.Tools,
			Active: p.Active,
		}
		switch cfg.Kind {
		case PromptPrincipal:
			if snap.Principal != nil {
				return nil, fmt.Errorf("%w: tenant=%d has multiple active principal prompts", contractx.ErrConfigurationMissing, row.ID)
			}
			snap.Principal = cfg
		case PromptSpecialist:
			snap.Specialists[strings.TrimSpace(cfg.Name)] = cfg
		}
	}

	for _, t := range row.Targets {
		if t == nil || strings.TrimSpace(t.ChatHandle) == "" {
			continue
		}
		snap.Targets = append(snap.Targets, contractx.NotificationTarget{
			Category:   contractx.Category(t.Category),
			ChatHandle: t.ChatHandle,
		})
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}
