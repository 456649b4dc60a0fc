package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	contractx "github.com/ajudei/concierge/engine/contract"
)

const maxSkillResponseBytes = 1 << 20

// Invoker executes one capability kind.
type Invoker interface {
	Invoke(ctx context.Context, capability contractx.Capability, payload contractx.DispatchPayload) (json.RawMessage, error)
}

// Dispatcher routes a capability to the invoker registered for its kind.
type Dispatcher struct {
	invokers map[contractx.CapabilityKind]Invoker
}

var _ contractx.Dispatcher = (*Dispatcher)(nil)

func NewDispatcher() *Dispatcher {
	return &Dispatcher{invokers: make(map[contractx.CapabilityKind]Invoker)}
}

func (d *Dispatcher) Register(kind contractx.CapabilityKind, inv Invoker) {
	d.invokers[kind] = inv
}

func (d *Dispatcher) Dispatch(ctx context.Context, capability contractx.Capability, payload contractx.DispatchPayload) (json.RawMessage, error) {
	inv, ok := d.invokers[capability.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no invoker for kind=%s (capability=%s)", contractx.ErrDispatch, capability.Kind, capability.Name)
	}
	out, err := inv.Invoke(ctx, capability, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contractx.ErrDispatch, capability.Name, err)
	}
	return out, nil
}

// Detach dispatches fire-and-forget: the task survives cancellation of the
// originating turn, runs under its own timeout, and failures are logged but
// never surfaced.
func Detach(ctx context.Context, d contractx.Dispatcher, capability contractx.Capability, payload contractx.DispatchPayload, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		callCtx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()
		if _, err := d.Dispatch(callCtx, capability, payload); err != nil {
			log.Error().
				Err(err).
				Str("capability", capability.Name).
				Str("call_id", payload.CallID).
				Int64("tenant_id", payload.TenantID).
				Msg("detached capability dispatch failed")
			return
		}
		log.Debug().
			Str("capability", capability.Name).
			Str("call_id", payload.CallID).
			Msg("detached capability dispatch completed")
	}()
}

// HTTPInvokerConfig configures the skill-gateway HTTP invoker.
type HTTPInvokerConfig struct {
	BaseURL string        `split_words:"true" required:"true"`
	Token   string        `split_words:"true"`
	Timeout time.Duration `split_words:"true" default:"30s"`
}

// HTTPInvoker posts the dispatch payload to the bound skill endpoint.
// Relative endpoints resolve against the configured gateway base URL.
type HTTPInvoker struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Invoker = (*HTTPInvoker)(nil)

func NewHTTPInvoker(cfg HTTPInvokerConfig) (*HTTPInvoker, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: skill gateway base url is required", contractx.ErrValidation)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (h *HTTPInvoker) Invoke(ctx context.Context, capability contractx.Capability, payload contractx.DispatchPayload) (json.RawMessage, error) {
	endpoint := strings.TrimSpace(capability.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("capability %s has no endpoint", capability.Name)
	}
	url := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		url = h.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxSkillResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read skill response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("skill %s returned status=%d body=%s", capability.Name, resp.StatusCode, truncate(string(out), 256))
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(out), nil
}

var pgIdentPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// RPCInvoker calls a Postgres function with the dispatch payload as jsonb.
type RPCInvoker struct {
	db *bun.DB
}

var _ Invoker = (*RPCInvoker)(nil)

func NewRPCInvoker(db *bun.DB) *RPCInvoker {
	return &RPCInvoker{db: db}
}

func (r *RPCInvoker) Invoke(ctx context.Context, capability contractx.Capability, payload contractx.DispatchPayload) (json.RawMessage, error) {
	fn := strings.TrimSpace(capability.Endpoint)
	if !pgIdentPattern.MatchString(fn) {
		return nil, fmt.Errorf("invalid rpc function name %q", capability.Endpoint)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch payload: %w", err)
	}

	var out string
	query := fmt.Sprintf("SELECT coalesce(%s(?::jsonb)::text, '{}')", fn)
	if err := r.db.NewRaw(query, string(body)).Scan(ctx, &out); err != nil {
		return nil, fmt.Errorf("rpc %s: %w", fn, err)
	}
	return json.RawMessage(out), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
