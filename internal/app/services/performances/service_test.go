package performances

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/athledger/platform/internal/app/domain/user"
	"github.com/athledger/platform/internal/app/storage/memory"
	"github.com/athledger/platform/internal/errors"
)

type anchorFunc func(ctx context.Context, athleteUUID, metricName string) (string, error)

func (f anchorFunc) Anchor(ctx context.Context, athleteUUID, metricName string) (string, error) {
	return f(ctx, athleteUUID, metricName)
}

func newAthlete(t *testing.T, store *memory.Store) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{Username: "athlete1", Email: "a@example.com", IsAthlete: true})
	if err != nil {
		t.Fatalf("create athlete: %v", err)
	}
	return u
}

func TestService_Create(t *testing.T) {
	store := memory.New()
	athlete := newAthlete(t, store)
	svc := New(store, store, nil, nil)

	p, err := svc.Create(context.Background(), athlete.UUID, "100m sprint", "", nil)
	if err != nil {
		t.Fatalf("create performance: %v", err)
	}
	if !p.IsPrivate {
		t.Fatalf("expected performance private by default")
	}
	if p.ID == "" {
		t.Fatalf("expected generated id")
	}

	public := false
	p2, err := svc.Create(context.Background(), athlete.UUID, "marathon", "", &public)
	if err != nil {
		t.Fatalf("create public performance: %v", err)
	}
	if p2.IsPrivate {
		t.Fatalf("expected public performance")
	}

	if _, err := svc.Create(context.Background(), "missing", "sprint", "", nil); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown athlete, got %v", err)
	}

	client, err := store.CreateUser(context.Background(), user.User{Username: "client1", Email: "c@example.com"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if _, err := svc.Create(context.Background(), client.UUID, "sprint", "", nil); !errors.IsValidation(err) {
		t.Fatalf("expected validation error for non-athlete, got %v", err)
	}
}

func TestService_CreateAnchors(t *testing.T) {
	store := memory.New()
	athlete := newAthlete(t, store)

	anchored := New(store, store, anchorFunc(func(_ context.Context, _, metric string) (string, error) {
		return "Qm" + metric, nil
	}), nil)
	p, err := anchored.Create(context.Background(), athlete.UUID, "sprint", "", nil)
	if err != nil {
		t.Fatalf("create with anchorer: %v", err)
	}
	if p.BlockchainHash != "Qmsprint" {
		t.Fatalf("expected anchored hash, got %q", p.BlockchainHash)
	}

	// supplied hashes win over the anchorer
	p, err = anchored.Create(context.Background(), athlete.UUID, "sprint2", "0xsupplied", nil)
	if err != nil {
		t.Fatalf("create with supplied hash: %v", err)
	}
	if p.BlockchainHash != "0xsupplied" {
		t.Fatalf("expected supplied hash, got %q", p.BlockchainHash)
	}

	// anchoring failure is non-fatal
	failing := New(store, store, anchorFunc(func(context.Context, string, string) (string, error) {
		return "", fmt.Errorf("rpc unreachable")
	}), nil)
	p, err = failing.Create(context.Background(), athlete.UUID, "sprint3", "", nil)
	if err != nil {
		t.Fatalf("create with failing anchorer: %v", err)
	}
	if p.BlockchainHash != "" {
		t.Fatalf("expected empty hash, got %q", p.BlockchainHash)
	}
}

func TestService_TogglePrivacy(t *testing.T) {
	store := memory.New()
	athlete := newAthlete(t, store)
	svc := New(store, store, nil, nil)

	p, err := svc.Create(context.Background(), athlete.UUID, "sprint", "", nil)
	if err != nil {
		t.Fatalf("create performance: %v", err)
	}

	toggled, err := svc.TogglePrivacy(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("toggle privacy: %v", err)
	}
	if toggled.IsPrivate {
		t.Fatalf("expected public after toggle")
	}

	public, err := svc.ListPublic(context.Background())
	if err != nil {
		t.Fatalf("list public: %v", err)
	}
	if len(public) != 1 || public[0].ID != p.ID {
		t.Fatalf("expected one public performance, got %#v", public)
	}

	toggled, err = svc.TogglePrivacy(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("toggle privacy back: %v", err)
	}
	if !toggled.IsPrivate {
		t.Fatalf("expected private after second toggle")
	}
}

func TestService_ImportCSV(t *testing.T) {
	store := memory.New()
	athlete := newAthlete(t, store)
	svc := New(store, store, nil, nil)

	csvBody := "metric_name,value,recorded_at\n" +
		"100m sprint,10.42,2026-05-01T09:30:00Z\n" +
		"long jump,7.81,\n"
	created, err := svc.ImportCSV(context.Background(), athlete.UUID, strings.NewReader(csvBody))
	if err != nil {
		t.Fatalf("import csv: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 performances, got %d", len(created))
	}
	for _, p := range created {
		if !p.IsPrivate {
			t.Fatalf("imported performances must be private: %#v", p)
		}
	}
}

func TestService_ImportCSVRejectsBadRows(t *testing.T) {
	store := memory.New()
	athlete := newAthlete(t, store)
	svc := New(store, store, nil, nil)

	cases := map[string]string{
		"bad header": "name,value\nsprint,10.4\n",
		"bad value":  "metric_name,value,recorded_at\nsprint,fast,\n",
		"bad date":   "metric_name,value,recorded_at\nsprint,10.4,yesterday\n",
		"empty name": "metric_name,value,recorded_at\n,10.4,\n",
		"no rows":    "metric_name,value,recorded_at\n",
		"empty file": "",
		"mixed rows": "metric_name,value,recorded_at\nsprint,10.4,\njump,oops,\n",
	}
	for name, body := range cases {
		if _, err := svc.ImportCSV(context.Background(), athlete.UUID, strings.NewReader(body)); !errors.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	// a rejected file must not leave partial state behind
	recs, err := svc.ListForAthlete(context.Background(), athlete.UUID)
	if err != nil {
		t.Fatalf("list performances: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no performances after failed imports, got %d", len(recs))
	}
}
