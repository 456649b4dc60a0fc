package capability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	contractx "github.com/ajudei/concierge/engine/contract"
)

type capabilityRow struct {
	bun.BaseModel `bun:"table:capabilities,alias:cp"`

	ID       int64  `bun:"id,pk"`
	TenantID int64  `bun:"tenant_id"`
	Name     string `bun:"name"`
	Kind     string `bun:"kind"`
	Endpoint string `bun:"endpoint"`
	Async    bool   `bun:"async"`
}

// PgRegistry resolves capability bindings from Postgres. Lookups are exact
// by (tenant, name); the same logical name may target different endpoints
// per tenant.
type PgRegistry struct {
	db *bun.DB
}

var _ contractx.Registry = (*PgRegistry)(nil)

func NewPgRegistry(db *bun.DB) *PgRegistry {
	return &PgRegistry{db: db}
}

func (r *PgRegistry) Lookup(ctx context.Context, tenantID int64, name string) (contractx.Capability, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return contractx.Capability{}, fmt.Errorf("%w: empty tool name", contractx.ErrUnknownCapability)
	}

	row := new(capabilityRow)
	err := r.db.NewSelect().
		Model(row).
		Where("cp.tenant_id = ? AND cp.name = ?", tenantID, name).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return contractx.Capability{}, fmt.Errorf("%w: %s (tenant=%d)", contractx.ErrUnknownCapability, name, tenantID)
	}
	if err != nil {
		return contractx.Capability{}, fmt.Errorf("lookup capability %s: %w", name, err)
	}

	return contractx.Capability{
		Name:     row.Name,
		Kind:     contractx.CapabilityKind(row.Kind),
		Endpoint: row.Endpoint,
		Async:    row.Async,
	}, nil
}

// StaticRegistry is an in-memory registry for tests and single-tenant
// deployments without capability rows.
type StaticRegistry struct {
	bindings map[int64]map[string]contractx.Capability
}

var _ contractx.Registry = (*StaticRegistry)(nil)

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{bindings: make(map[int64]map[string]contractx.Capability)}
}

func (r *StaticRegistry) Register(tenantID int64, cap contractx.Capability) {
	byName, ok := r.bindings[tenantID]
	if !ok {
		byName = make(map[string]contractx.Capability)
		r.bindings[tenantID] = byName
	}
	byName[cap.Name] = cap
}

func (r *StaticRegistry) Lookup(_ context.Context, tenantID int64, name string) (contractx.Capability, error) {
	if cap, ok := r.bindings[tenantID][strings.TrimSpace(name)]; ok {
		return cap, nil
	}
	return contractx.Capability{}, fmt.Errorf("%w: %s (tenant=%d)", contractx.ErrUnknownCapability, name, tenantID)
}
