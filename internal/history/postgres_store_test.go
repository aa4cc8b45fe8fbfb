package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/churnsight/churnsight/internal/testutil"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	rec := &Record{
		ID:                   "score_pgtest000000000001",
		CreatedAt:            time.Now().UTC().Truncate(time.Microsecond),
		Profile:              json.RawMessage(`{"credit_score": 550, "housing": "rented"}`),
		PrimaryModel:         "gbt",
		PrimaryProbability:   0.7408,
		SecondaryModel:       "forest",
		SecondaryProbability: 0.825,
		Decision:             1,
		RiskTier:             "High",
		Recommendations:      json.RawMessage(`{"key_insights":[],"recommendations":[],"action_items":[]}`),
		DefaultedFields:      []string{"age", "deposits"},
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RiskTier != "High" || got.Decision != 1 || got.PrimaryModel != "gbt" {
		t.Errorf("Get returned %+v", got)
	}
	if len(got.DefaultedFields) != 2 || got.DefaultedFields[0] != "age" {
		t.Errorf("defaulted fields = %v", got.DefaultedFields)
	}

	var profile map[string]any
	if err := json.Unmarshal(got.Profile, &profile); err != nil {
		t.Fatalf("stored profile is not valid JSON: %v", err)
	}
	if profile["housing"] != "rented" {
		t.Errorf("profile round-trip lost data: %v", profile)
	}

	if _, err := store.Get(ctx, "score_nope"); err != ErrRecordNotFound {
		t.Errorf("Get(missing) = %v, want ErrRecordNotFound", err)
	}
}

func TestPostgresStore_ListFilters(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	svc := NewService(store)
	seed := []struct {
		tier     string
		decision int
	}{
		{"High", 1},
		{"Low", 0},
		{"High", 1},
		{"Medium", 1},
	}
	for _, s := range seed {
		_, err := svc.Append(ctx, &Record{
			Profile:              json.RawMessage(`{}`),
			PrimaryModel:         "gbt",
			SecondaryModel:       "forest",
			PrimaryProbability:   0.5,
			SecondaryProbability: 0.5,
			Decision:             s.decision,
			RiskTier:             s.tier,
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	high, err := store.List(ctx, ListOptions{RiskTier: "High"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(high) != 2 {
		t.Errorf("RiskTier filter returned %d, want 2", len(high))
	}

	zero := 0
	retained, err := store.List(ctx, ListOptions{Decision: &zero})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(retained) != 1 || retained[0].RiskTier != "Low" {
		t.Errorf("Decision filter returned %d records", len(retained))
	}

	if n, _ := store.Count(ctx); n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}
}
