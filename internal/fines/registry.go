// Package fines maps media types to their overdue penalty policies.
//
// Fines are flat: the amount depends only on the media type, never on how
// many days late an item is. The overdue-day count stays in the Policy
// interface so a per-day policy can be registered later.
package fines

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	apperrors "library/internal/errors"
	"library/internal/models"
)

// Policy computes the overdue penalty for one media type
type Policy interface {
	MediaType() models.MediaType
	FlatFine() decimal.Decimal
	// Calculate returns the fine for an item overdueDays late
	Calculate(overdueDays int) decimal.Decimal
}

// FlatPolicy charges the same amount regardless of days overdue
type FlatPolicy struct {
	Type   models.MediaType
	Amount decimal.Decimal
}

// NewFlatPolicy creates a flat policy for a media type
func NewFlatPolicy(mediaType models.MediaType, amount decimal.Decimal) FlatPolicy {
	return FlatPolicy{Type: mediaType, Amount: amount}
}

func (p FlatPolicy) MediaType() models.MediaType { return p.Type }

func (p FlatPolicy) FlatFine() decimal.Decimal { return p.Amount }

// Calculate ignores overdueDays beyond checking it is positive
func (p FlatPolicy) Calculate(overdueDays int) decimal.Decimal {
	if overdueDays <= 0 {
		return decimal.Zero
	}
	return p.Amount
}

// Registry holds the media type -> policy table. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[models.MediaType]Policy
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{policies: make(map[models.MediaType]Policy)}
}

// NewDefaultRegistry creates a registry with the stock book and CD policies
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.policies[models.MediaBook] = NewFlatPolicy(models.MediaBook, decimal.NewFromInt(10))
	r.policies[models.MediaCD] = NewFlatPolicy(models.MediaCD, decimal.NewFromInt(20))
	return r
}

// Register sets the policy for a media type, replacing any existing one
func (r *Registry) Register(mediaType models.MediaType, policy Policy) error {
	if mediaType == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "media type cannot be empty")
	}
	if policy == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "policy for %s cannot be nil", mediaType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.policies[mediaType] = policy
	return nil
}

// Policy returns the registered policy for a media type
func (r *Registry) Policy(mediaType models.MediaType) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.policies[mediaType]
	if !ok {
		return nil, apperrors.New(apperrors.CodePolicyNotFound, "no fine policy registered for media type %s", mediaType)
	}
	return policy, nil
}

// FlatFine returns the flat penalty for a media type
func (r *Registry) FlatFine(mediaType models.MediaType) (decimal.Decimal, error) {
	policy, err := r.Policy(mediaType)
	if err != nil {
		return decimal.Zero, err
	}
	return policy.FlatFine(), nil
}

// Calculate returns the penalty for an item overdueDays late, zero when not late
func (r *Registry) Calculate(mediaType models.MediaType, overdueDays int) (decimal.Decimal, error) {
	policy, err := r.Policy(mediaType)
	if err != nil {
		return decimal.Zero, err
	}
	return policy.Calculate(overdueDays), nil
}

// Types returns the registered media types in sorted order
func (r *Registry) Types() []models.MediaType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.MediaType, 0, len(r.policies))
	for t := range r.policies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
