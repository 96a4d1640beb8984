package domain

import (
	"fmt"
	"sort"
	"time"
)

// Credit transaction reasons persisted on the ledger.
const (
	CreditReasonSmsFallback = "sms_fallback"
	CreditReasonSmsDirect   = "sms_direct"
	CreditReasonRefund      = "refund"
)

// CreditGrant is a bucket of pre-purchased message credits owned by an
// organization, with an optional expiry.
type CreditGrant struct {
	ID              string
	OrganizationID  string
	CreditsGranted  int
	CreditsConsumed int
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Remaining is always granted minus consumed and must never go negative.
func (g *CreditGrant) Remaining() int {
	return g.CreditsGranted - g.CreditsConsumed
}

// Expired reports whether the grant must not be selected for consumption.
func (g *CreditGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

func (g *CreditGrant) CheckInvariant() error {
	if g.CreditsConsumed < 0 || g.CreditsConsumed > g.CreditsGranted {
		return fmt.Errorf("%w: grant %s consumed %d of %d granted",
			ErrInvariant, g.ID, g.CreditsConsumed, g.CreditsGranted)
	}
	return nil
}

// CreditTransaction is an immutable ledger line. For a given message id
// at most one consuming transaction may exist per grant, and in
// practice amount is always 1 so exactly one line pays for a send.
type CreditTransaction struct {
	ID        string
	GrantID   string
	MessageID string
	Delta     int
	Reason    string
	CreatedAt time.Time
}

// GrantDraw is one planned deduction against a single grant.
type GrantDraw struct {
	GrantID string
	Amount  int
}

// PlanConsumption selects grants to cover amount: eligible grants are
// unexpired with credits remaining, ordered by expiresAt ascending with
// null expiries last so expiring credits are spent first. The plan may
// split across grants when the first remainder is insufficient.
func PlanConsumption(grants []CreditGrant, amount int, now time.Time) ([]GrantDraw, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: consumption amount must be positive, got %d", ErrValidation, amount)
	}

	eligible := make([]CreditGrant, 0, len(grants))
	for _, g := range grants {
		if err := g.CheckInvariant(); err != nil {
			return nil, err
		}
		if g.Expired(now) || g.Remaining() <= 0 {
			continue
		}
		eligible = append(eligible, g)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].ExpiresAt, eligible[j].ExpiresAt
		switch {
		case a == nil && b == nil:
			return eligible[i].ID < eligible[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return eligible[i].ID < eligible[j].ID
		default:
			return a.Before(*b)
		}
	})

	remaining := amount
	draws := make([]GrantDraw, 0, 1)
	for _, g := range eligible {
		if remaining == 0 {
			break
		}
		take := min(g.Remaining(), remaining)
		draws = append(draws, GrantDraw{GrantID: g.ID, Amount: take})
		remaining -= take
	}

	if remaining > 0 {
		return nil, ErrInsufficientCredits
	}

	return draws, nil
}
