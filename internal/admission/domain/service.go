// Package domain defines the admission decision: given the requester and
// current ledger state, is another summary allowed.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/clipbrief/clipbrief/internal/identity"
	"gorm.io/gorm"
)

// DenyCode identifies why admission was refused.
type DenyCode string

const (
	DenyUnresolvableIdentity DenyCode = "unresolvable_identity"
	DenyAnonymousUsed        DenyCode = "anonymous_trial_used"
	DenyFreeLimitReached     DenyCode = "free_limit_reached"
	DenyProLimitReached      DenyCode = "pro_limit_reached"
	// DenyAccountLimitReached covers a per-account cap on plans with no
	// standard limit, set through the summaries_limit override.
	DenyAccountLimitReached DenyCode = "account_limit_reached"
	DenyUnknownUser         DenyCode = "unknown_user"
)

// UnlimitedQuota is the Limit value reported for uncapped plans.
const UnlimitedQuota = -1

// Decision is the structured outcome of an admission check. A denial is a
// normal outcome, not an error.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Code    DenyCode `json:"code,omitempty"`
	Reason  string   `json:"reason,omitempty"`

	Plan         string     `json:"plan"`
	CurrentUsage int        `json:"current_usage"`
	Limit        int        `json:"limit"`
	ResetsAt     *time.Time `json:"resets_at,omitempty"`
}

type Service interface {
	// Check runs the decision against the live database.
	Check(ctx context.Context, id identity.Identity) (Decision, error)

	// CheckWithTrx re-runs the decision against fresh data inside the
	// creation transaction.
	CheckWithTrx(ctx context.Context, tx *gorm.DB, id identity.Identity) (Decision, error)
}

// ErrAdmissionDenied signals a denial to callers that need an error value;
// the Decision carries the user-facing detail.
var ErrAdmissionDenied = errors.New("admission_denied")
