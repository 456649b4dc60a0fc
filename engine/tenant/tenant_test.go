package tenant

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/ajudei/concierge/engine/contract"
)

func validSnapshot() *Snapshot {
	return &Snapshot{
		ID:                  7,
		Slug:                "bistro",
		Timezone:            "America/Sao_Paulo",
		ReservationLinkBase: "https://reservas.example.com/r/",
		ModelAPIKey:         "sk-test",
		Principal: &PromptConfig{
			Kind:   PromptPrincipal,
			Body:   "prompt",
			Model:  "gpt-4.1",
			Active: true,
		},
		Specialists: map[string]*PromptConfig{
			"reservas": {Kind: PromptSpecialist, Body: "prompt", Model: "gpt-4.1-mini", Active: true},
		},
		Targets: []contractx.NotificationTarget{
			{Category: contractx.CategoryResponses, ChatHandle: "111"},
			{Category: contractx.CategoryHandoff, ChatHandle: "222"},
			{Category: contractx.CategoryResponses, ChatHandle: "333"},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := validSnapshot().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	noPrincipal := validSnapshot()
	noPrincipal.Principal = nil
	if err := noPrincipal.Validate(); !errors.Is(err, contractx.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}

	noModel := validSnapshot()
	noModel.Principal.Model = " "
	if err := noModel.Validate(); !errors.Is(err, contractx.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}

	noKey := validSnapshot()
	noKey.ModelAPIKey = ""
	if err := noKey.Validate(); !errors.Is(err, contractx.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}

func TestSpecialistLookup(t *testing.T) {
	t.Parallel()

	snap := validSnapshot()
	cfg, err := snap.Specialist("reservas")
	if err != nil {
		t.Fatalf("Specialist: %v", err)
	}
	if cfg.Model != "gpt-4.1-mini" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := snap.Specialist("ghost"); !errors.Is(err, contractx.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}

func TestTargetsFor(t *testing.T) {
	t.Parallel()

	snap := validSnapshot()
	got := snap.TargetsFor(contractx.CategoryResponses)
	if len(got) != 2 {
		t.Fatalf("expected 2 responses targets, got %d", len(got))
	}
	if len(snap.TargetsFor(contractx.CategoryRecruiting)) != 0 {
		t.Fatal("no recruiting targets configured")
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	t.Parallel()

	snap := validSnapshot()
	if snap.Location().String() != "America/Sao_Paulo" {
		t.Fatalf("unexpected location %s", snap.Location())
	}

	snap.Timezone = "Mars/Olympus"
	if snap.Location() != time.UTC {
		t.Fatal("invalid timezone must fall back to UTC")
	}
}

func TestReservationLink(t *testing.T) {
	t.Parallel()

	snap := validSnapshot()
	if got := snap.ReservationLink("c0ffee"); got != "https://reservas.example.com/r/c0ffee" {
		t.Fatalf("ReservationLink = %q", got)
	}

	snap.ReservationLinkBase = ""
	if got := snap.ReservationLink("c0ffee"); got != "" {
		t.Fatalf("no base means no link, got %q", got)
	}
}
