package service

import (
	"context"
	"fmt"
	"time"

	admissiondomain "github.com/clipbrief/clipbrief/internal/admission/domain"
	"github.com/clipbrief/clipbrief/internal/clock"
	"github.com/clipbrief/clipbrief/internal/config"
	"github.com/clipbrief/clipbrief/internal/identity"
	usagedomain "github.com/clipbrief/clipbrief/internal/usage/domain"
	userdomain "github.com/clipbrief/clipbrief/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	Log    *zap.Logger
	Ledger usagedomain.Ledger
	Users  userdomain.Repository
	Quota  *config.QuotaConfigHolder
	Clock  clock.Clock
}

type Service struct {
	log    *zap.Logger
	ledger usagedomain.Ledger
	users  userdomain.Repository
	quota  *config.QuotaConfigHolder
	clock  clock.Clock
}

func NewService(p ServiceParam) admissiondomain.Service {
	return &Service{
		log:    p.Log.Named("admission.service"),
		ledger: p.Ledger,
		users:  p.Users,
		quota:  p.Quota,
		clock:  p.Clock,
	}
}

func (s *Service) Check(ctx context.Context, id identity.Identity) (admissiondomain.Decision, error) {
	return s.check(ctx, s.ledger, s.users, id)
}

func (s *Service) CheckWithTrx(ctx context.Context, tx *gorm.DB, id identity.Identity) (admissiondomain.Decision, error) {
	return s.check(ctx, s.ledger.WithTrx(tx), s.users.WithTrx(tx), id)
}

func (s *Service) check(
	ctx context.Context,
	ledger usagedomain.Ledger,
	users userdomain.Repository,
	id identity.Identity,
) (admissiondomain.Decision, error) {

	// An identity that cannot be tracked cannot be safely admitted.
	if id.Unresolvable() {
		return admissiondomain.Decision{
			Code:   admissiondomain.DenyUnresolvableIdentity,
			Reason: "We couldn't identify your browser. Please retry, or sign up for a free account.",
			Plan:   "anonymous",
			Limit:  s.quota.Get().AnonymousLimit,
		}, nil
	}

	if id.Anonymous() {
		return s.checkAnonymous(ctx, ledger, id)
	}
	return s.checkAuthenticated(ctx, ledger, users, id)
}

func (s *Service) checkAnonymous(ctx context.Context, ledger usagedomain.Ledger, id identity.Identity) (admissiondomain.Decision, error) {
	limit := s.quota.Get().AnonymousLimit

	used, err := ledger.ExistsForAnonymous(ctx, usagedomain.EventTypeSummaryCreated, id.Fingerprint, id.ClientIP)
	if err != nil {
		return admissiondomain.Decision{}, err
	}
	if used {
		return admissiondomain.Decision{
			Code:         admissiondomain.DenyAnonymousUsed,
			Reason:       fmt.Sprintf("You've already used your free trial summary. Sign up for a free account to get %d free summaries.", s.quota.Get().FreeLimit),
			Plan:         "anonymous",
			CurrentUsage: limit,
			Limit:        limit,
		}, nil
	}

	return admissiondomain.Decision{
		Allowed: true,
		Plan:    "anonymous",
		Limit:   limit,
	}, nil
}

func (s *Service) checkAuthenticated(
	ctx context.Context,
	ledger usagedomain.Ledger,
	users userdomain.Repository,
	id identity.Identity,
) (admissiondomain.Decision, error) {

	user, err := users.FindByID(ctx, id.UserID)
	if err != nil {
		return admissiondomain.Decision{}, err
	}
	if user == nil {
		s.log.Warn("admission check for unknown user", zap.String("user_id", id.UserID.String()))
		return admissiondomain.Decision{
			Code:   admissiondomain.DenyUnknownUser,
			Reason: "We couldn't find your account. Please sign out and sign in again.",
		}, nil
	}

	limit, window := s.effectiveQuota(user)
	plan := string(user.Plan)

	if limit == admissiondomain.UnlimitedQuota {
		return admissiondomain.Decision{
			Allowed: true,
			Plan:    plan,
			Limit:   admissiondomain.UnlimitedQuota,
		}, nil
	}

	count, err := ledger.CountSince(ctx, user.ID, usagedomain.EventTypeSummaryCreated, window)
	if err != nil {
		return admissiondomain.Decision{}, err
	}

	decision := admissiondomain.Decision{
		Plan:         plan,
		CurrentUsage: int(count),
		Limit:        limit,
	}
	if window != nil {
		resetsAt := nextMonthStart(*window)
		decision.ResetsAt = &resetsAt
	}

	if count >= int64(limit) {
		decision.Code, decision.Reason = s.denyReason(user.Plan, limit, decision.ResetsAt)
		return decision, nil
	}

	decision.Allowed = true
	return decision, nil
}

// effectiveQuota resolves the limit and counting window for a user.
// A positive per-user override supersedes the plan default; a negative
// override lifts the cap. FREE counts lifetime, PRO per calendar month.
func (s *Service) effectiveQuota(user *userdomain.User) (int, *time.Time) {
	table := s.quota.Get()

	var limit int
	var window *time.Time

	switch user.Plan {
	case userdomain.PlanPro:
		limit = table.ProLimit
		start := StartOfMonth(s.clock.Now())
		window = &start
	case userdomain.PlanEnterprise:
		limit = admissiondomain.UnlimitedQuota
	default:
		limit = table.FreeLimit
	}

	if user.SummariesLimit > 0 {
		limit = user.SummariesLimit
	} else if user.SummariesLimit < 0 {
		limit = admissiondomain.UnlimitedQuota
	}

	if limit == admissiondomain.UnlimitedQuota {
		window = nil
	}
	return limit, window
}

func (s *Service) denyReason(plan userdomain.Plan, limit int, resetsAt *time.Time) (admissiondomain.DenyCode, string) {
	switch plan {
	case userdomain.PlanPro:
		reset := "the 1st of next month"
		if resetsAt != nil {
			reset = resetsAt.Format("January 2")
		}
		return admissiondomain.DenyProLimitReached,
			fmt.Sprintf("You've used all %d summaries for this month. Your quota resets on %s. Upgrade to Enterprise for unlimited summaries.", limit, reset)
	case userdomain.PlanFree:
		return admissiondomain.DenyFreeLimitReached,
			fmt.Sprintf("You've reached your lifetime limit of %d free summaries. Upgrade to Pro for %d summaries per month.", limit, s.quota.Get().ProLimit)
	default:
		// An unlimited plan capped by a per-account override.
		return admissiondomain.DenyAccountLimitReached,
			fmt.Sprintf("You've reached your account limit of %d summaries. Contact your administrator to raise it.", limit)
	}
}

// StartOfMonth truncates t to the 1st 00:00:00 UTC of its calendar month.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func nextMonthStart(monthStart time.Time) time.Time {
	return monthStart.AddDate(0, 1, 0)
}
