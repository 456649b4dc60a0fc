package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	contractx "github.com/ajudei/concierge/engine/contract"
)

func TestSendTextWAMe(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"sent":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{WAMeBaseURL: srv.URL})
	err := c.SendText(context.Background(), contractx.MessagingCredentials{
		Provider: contractx.ProviderWAMe,
		Token:    "tok123",
	}, "5511987654321@c.us", "olá")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if gotPath != "/tok123/message/text" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotBody["to"] != "5511987654321" {
		t.Fatalf("provider suffix must be stripped, got %q", gotBody["to"])
	}
	if gotBody["text"] != "olá" {
		t.Fatalf("unexpected text %q", gotBody["text"])
	}
}

func TestSendTextCloud(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(Config{CloudBaseURL: srv.URL})
	err := c.SendText(context.Background(), contractx.MessagingCredentials{
		Provider: contractx.ProviderCloud,
		Token:    "tok123",
		SenderID: "1050",
	}, "5511987654321", "olá")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if gotPath != "/1050/messages" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("unexpected auth %q", gotAuth)
	}
	if gotBody["messaging_product"] != "whatsapp" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestSendTextCloudRequiresSenderID(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	err := c.SendText(context.Background(), contractx.MessagingCredentials{
		Provider: contractx.ProviderCloud,
		Token:    "tok",
	}, "5511987654321", "olá")
	if !errors.Is(err, contractx.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}

func TestSendTextProviderErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{WAMeBaseURL: srv.URL})
	err := c.SendText(context.Background(), contractx.MessagingCredentials{
		Provider: contractx.ProviderWAMe,
		Token:    "bad",
	}, "5511987654321", "olá")
	if err == nil {
		t.Fatal("expected error on non-2xx provider status")
	}
}

func TestSendTextValidation(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	creds := contractx.MessagingCredentials{Provider: contractx.ProviderWAMe, Token: "tok"}

	if err := c.SendText(context.Background(), creds, "  ", "olá"); err == nil {
		t.Fatal("empty recipient must fail")
	}
	if err := c.SendText(context.Background(), creds, "5511", "  "); err == nil {
		t.Fatal("empty message must fail")
	}
	if err := c.SendText(context.Background(), contractx.MessagingCredentials{Provider: "fax", Token: "tok"}, "5511", "oi"); err == nil {
		t.Fatal("unsupported provider must fail")
	}
}
