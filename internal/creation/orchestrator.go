// Package creation composes admission control, the per-requester lock, the
// summary store and the usage ledger into the single code path that may
// consume a quota unit.
package creation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	admissiondomain "github.com/clipbrief/clipbrief/internal/admission/domain"
	"github.com/clipbrief/clipbrief/internal/clock"
	"github.com/clipbrief/clipbrief/internal/identity"
	"github.com/clipbrief/clipbrief/internal/lock"
	obsmetrics "github.com/clipbrief/clipbrief/internal/observability/metrics"
	summarydomain "github.com/clipbrief/clipbrief/internal/summary/domain"
	usagedomain "github.com/clipbrief/clipbrief/internal/usage/domain"
	userdomain "github.com/clipbrief/clipbrief/internal/user/domain"
	"github.com/clipbrief/clipbrief/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RefundQuotaOnBackendFailure governs whether a failed summarization call
// refunds the consumed quota unit. Business policy says no: the unit is
// spent when the ledger row commits, not when the backend succeeds.
const RefundQuotaOnBackendFailure = false

// ErrVideoRequired rejects creation requests without a video reference
// before any lock or transaction work.
var ErrVideoRequired = errors.New("video_required")

// serializationRetries bounds in-lock retries of a transaction aborted by a
// serializable-isolation conflict before giving up.
const serializationRetries = 3

type CreateRequest struct {
	Identity identity.Identity
	VideoID  string
	VideoURL string
	Title    string
}

type CreateResult struct {
	Summary  *summarydomain.Summary
	Decision admissiondomain.Decision
}

type OrchestratorParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Admission admissiondomain.Service
	Ledger    usagedomain.Ledger
	Summaries summarydomain.Store
	Users     userdomain.Repository
	Locker    *lock.Locker
	Clock     clock.Clock
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Orchestrator struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	admission admissiondomain.Service
	ledger    usagedomain.Ledger
	summaries summarydomain.Store
	users     userdomain.Repository
	locker    *lock.Locker
	clock     clock.Clock
	metrics   *obsmetrics.Metrics
}

func NewOrchestrator(p OrchestratorParam) *Orchestrator {
	return &Orchestrator{
		db:        p.DB,
		log:       p.Log.Named("creation.orchestrator"),
		genID:     p.GenID,
		admission: p.Admission,
		ledger:    p.Ledger,
		summaries: p.Summaries,
		users:     p.Users,
		locker:    p.Locker,
		clock:     p.Clock,
		metrics:   p.Metrics,
	}
}

// CreateSummary admits, creates and records one billable summary as a
// single atomic unit. A denial returns ErrAdmissionDenied with the
// Decision populated; lock exhaustion returns lock.ErrNotAcquired.
func (o *Orchestrator) CreateSummary(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.VideoID == "" || req.VideoURL == "" {
		return nil, ErrVideoRequired
	}

	// Advisory pre-check: fail fast on exhausted quota without paying
	// for the lock. Never authoritative.
	precheck, err := o.admission.Check(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if !precheck.Allowed {
		o.metrics.RecordAdmission(ctx, precheck.Plan, false)
		return &CreateResult{Decision: precheck}, admissiondomain.ErrAdmissionDenied
	}

	result := &CreateResult{}
	lockKeys := req.Identity.LockKeys()
	err = o.withLocks(ctx, lockKeys, func(ctx context.Context) error {
		return o.retryOnSerialization(ctx, req, result)
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			o.metrics.RecordLockContention(ctx)
			o.log.Warn("creation lock exhausted", zap.Strings("keys", lockKeys))
		}
		if errors.Is(err, admissiondomain.ErrAdmissionDenied) {
			o.metrics.RecordAdmission(ctx, result.Decision.Plan, false)
			return result, err
		}
		return nil, err
	}

	o.metrics.RecordAdmission(ctx, result.Decision.Plan, true)
	o.metrics.RecordLedgerAppend(ctx, usagedomain.EventTypeSummaryCreated)
	return result, nil
}

// withLocks acquires every key in order before running fn. Keys come from
// Identity.LockKeys in a fixed order, so overlapping requesters cannot
// deadlock against each other.
func (o *Orchestrator) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return o.locker.WithLock(ctx, keys[0], func(ctx context.Context) error {
		return o.withLocks(ctx, keys[1:], fn)
	})
}

// retryOnSerialization re-runs the creation transaction when the database
// aborts it under serializable isolation. The lock is already held, so a
// retry re-checks admission on the committed state and lands on a clean
// allow or deny instead of surfacing the conflict.
func (o *Orchestrator) retryOnSerialization(ctx context.Context, req CreateRequest, result *CreateResult) error {
	var err error
	for attempt := 0; attempt <= serializationRetries; attempt++ {
		err = o.createInTransaction(ctx, req, result)
		if !db.IsSerializationErr(err) {
			return err
		}
		o.log.Warn("creation transaction serialization conflict",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}

func (o *Orchestrator) createInTransaction(ctx context.Context, req CreateRequest, result *CreateResult) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check on fresh data: quota may have changed between the
		// pre-check and lock acquisition.
		decision, err := o.admission.CheckWithTrx(ctx, tx, req.Identity)
		if err != nil {
			return err
		}
		result.Decision = decision
		if !decision.Allowed {
			return admissiondomain.ErrAdmissionDenied
		}

		now := o.clock.Now()
		summary := &summarydomain.Summary{
			ID:        o.genID.Generate(),
			UserID:    req.Identity.UserID,
			VideoID:   req.VideoID,
			VideoURL:  req.VideoURL,
			Title:     req.Title,
			Status:    summarydomain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.summaries.WithTrx(tx).Create(ctx, summary); err != nil {
			return err
		}

		event := o.buildUsageEvent(req.Identity, decision, summary, now)
		if err := o.ledger.WithTrx(tx).Append(ctx, event); err != nil {
			return err
		}

		if req.Identity.Authenticated() {
			if err := o.bumpDisplayCounter(ctx, tx, req.Identity.UserID); err != nil {
				return err
			}
		}

		result.Summary = summary
		result.Decision.CurrentUsage++
		return nil
	}, o.txOptions())
}

// txOptions requests serializable isolation so the in-transaction re-check
// and the ledger append observe a consistent snapshot. SQLite runs
// serializable natively and its driver rejects an explicit request.
func (o *Orchestrator) txOptions() *sql.TxOptions {
	if o.db.Dialector.Name() == "sqlite" {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func (o *Orchestrator) buildUsageEvent(
	id identity.Identity,
	decision admissiondomain.Decision,
	summary *summarydomain.Summary,
	now time.Time,
) *usagedomain.UsageEvent {

	event := &usagedomain.UsageEvent{
		ID:        o.genID.Generate(),
		UserID:    id.UserID,
		EventType: usagedomain.EventTypeSummaryCreated,
		SummaryID: summary.ID,
		VideoID:   summary.VideoID,
		CreatedAt: now,
	}

	if id.Anonymous() {
		event.UserID = usagedomain.AnonymousUserID
		event.BrowserFingerprint = id.Fingerprint
		event.ClientIP = id.ClientIP
		event.Metadata = datatypes.JSONMap{
			"plan":               "anonymous",
			"browserFingerprint": id.Fingerprint,
			"clientIP":           id.ClientIP,
		}
		return event
	}

	event.Metadata = datatypes.JSONMap{
		"plan":  decision.Plan,
		"limit": decision.Limit,
	}
	return event
}

// bumpDisplayCounter increments the cached usage counter on the user row
// under its version CAS. Display only; enforcement reads the ledger.
func (o *Orchestrator) bumpDisplayCounter(ctx context.Context, tx *gorm.DB, userID snowflake.ID) error {
	users := o.users.WithTrx(tx)
	user, err := users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return userdomain.ErrNotFound
	}
	return users.IncrementUsage(ctx, user)
}
