// Package history persists scored predictions so past results can be
// reviewed and audited.
//
// Every successful scoring request yields one immutable Record: the raw
// profile as submitted, both model outputs, the recommendation bundle, and
// the fields the normalizer had to default. Records are never updated;
// re-scoring a customer creates a new record.
package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrRecordNotFound = errors.New("score record not found")
	ErrInvalidRecord  = errors.New("invalid score record")
)

// Record is one stored scoring result.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Profile is the request body exactly as submitted, kept for audit.
	Profile json.RawMessage `json:"profile"`

	PrimaryModel         string  `json:"primary_model"`
	PrimaryProbability   float64 `json:"primary_probability"`
	SecondaryModel       string  `json:"secondary_model"`
	SecondaryProbability float64 `json:"secondary_probability"`
	Decision             int     `json:"decision"`
	RiskTier             string  `json:"risk_tier"`

	Recommendations json.RawMessage `json:"recommendations,omitempty"`
	DefaultedFields []string        `json:"defaulted_fields,omitempty"`
}

// ListOptions filters and bounds history queries.
type ListOptions struct {
	Limit    int
	RiskTier string
	// Decision filters on the binary churn decision when non-nil.
	Decision *int
}

// Store persists score records. Implementations must be safe for
// concurrent use.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Count(ctx context.Context) (int, error)
}

// Service wraps a Store with validation and ID assignment.
type Service struct {
	store Store
}

// NewService creates a history service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Append validates and persists a new record, assigning its ID and
// timestamp.
func (s *Service) Append(ctx context.Context, rec *Record) (*Record, error) {
	if len(rec.Profile) == 0 || rec.PrimaryModel == "" || rec.RiskTier == "" {
		return nil, ErrInvalidRecord
	}
	rec.ID = generateID("score_")
	rec.CreatedAt = time.Now().UTC()
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func generateID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
