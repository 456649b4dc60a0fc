package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	contractx "github.com/ajudei/concierge/engine/contract"
	convx "github.com/ajudei/concierge/engine/conversation"
	"github.com/ajudei/concierge/engine/turn"
)

type fakeService struct {
	execResult   contractx.TurnResult
	execErr      error
	execReqs     []turn.Request
	resumeResult contractx.TurnResult
	resumeErr    error
	resumeReqs   []turn.ResumeRequest
}

func (f *fakeService) Execute(_ context.Context, req turn.Request) (contractx.TurnResult, error) {
	f.execReqs = append(f.execReqs, req)
	return f.execResult, f.execErr
}

func (f *fakeService) ResumeToolResult(_ context.Context, req turn.ResumeRequest) (contractx.TurnResult, error) {
	f.resumeReqs = append(f.resumeReqs, req)
	return f.resumeResult, f.resumeErr
}

func newTestServer(svc TurnService) *Server {
	gin.SetMode(gin.TestMode)
	return New(svc, Config{Addr: ":0"})
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleTurn(t *testing.T) {
	t.Parallel()

	svc := &fakeService{execResult: contractx.TurnResult{Status: contractx.TurnFinal, Reply: "ok"}}
	srv := newTestServer(svc)

	rec := doJSON(t, srv, http.MethodPost, "/v1/turn", `{"tenant_id":7,"chat_handle":"5511","user_text":"oi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	if len(svc.execReqs) != 1 {
		t.Fatalf("expected one execute call, got %d", len(svc.execReqs))
	}
	got := svc.execReqs[0]
	if got.Ref != (convx.Ref{TenantID: 7, ChatHandle: "5511"}) || got.UserText != "oi" {
		t.Fatalf("unexpected request %+v", got)
	}
	if !strings.Contains(rec.Body.String(), `"final"`) {
		t.Fatalf("unexpected body %s", rec.Body)
	}
}

func TestHandleTurnRejectsMissingRef(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeService{})
	rec := doJSON(t, srv, http.MethodPost, "/v1/turn", `{"user_text":"oi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestHandleToolResult(t *testing.T) {
	t.Parallel()

	svc := &fakeService{resumeResult: contractx.TurnResult{Status: contractx.TurnFinal, Reply: "pronto"}}
	srv := newTestServer(svc)

	rec := doJSON(t, srv, http.MethodPost, "/v1/tool-result", `{"conversation_id":21,"tool_call_id":"call_1","result":{"status":"ok"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	if len(svc.resumeReqs) != 1 || svc.resumeReqs[0].CallID != "call_1" {
		t.Fatalf("unexpected resume calls %+v", svc.resumeReqs)
	}
}

func TestHandleToolResultRequiresCallID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeService{})
	rec := doJSON(t, srv, http.MethodPost, "/v1/tool-result", `{"conversation_id":21,"result":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", contractx.ErrValidation, http.StatusBadRequest},
		{"not_found", contractx.ErrConversationNotFound, http.StatusNotFound},
		{"busy", contractx.ErrConversationBusy, http.StatusConflict},
		{"handle_conflict", convx.ErrHandleConflict, http.StatusConflict},
		{"config", contractx.ErrConfigurationMissing, http.StatusUnprocessableEntity},
		{"capability", contractx.ErrUnknownCapability, http.StatusUnprocessableEntity},
		{"model", contractx.ErrUpstreamModel, http.StatusBadGateway},
		{"dispatch", contractx.ErrDispatch, http.StatusBadGateway},
		{"other", fmt.Errorf("db on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{execErr: fmt.Errorf("wrapped: %w", tc.err)}
			srv := newTestServer(svc)
			rec := doJSON(t, srv, http.MethodPost, "/v1/turn", `{"conversation_id":21,"user_text":"oi"}`)
			if rec.Code != tc.want {
				t.Fatalf("status=%d, want %d", rec.Code, tc.want)
			}
			if strings.Contains(rec.Body.String(), "db on fire") {
				t.Fatalf("internal detail leaked: %s", rec.Body)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeService{})
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}
