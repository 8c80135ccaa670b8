package creation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	admissiondomain "github.com/clipbrief/clipbrief/internal/admission/domain"
	admissionservice "github.com/clipbrief/clipbrief/internal/admission/service"
	"github.com/clipbrief/clipbrief/internal/clock"
	"github.com/clipbrief/clipbrief/internal/config"
	"github.com/clipbrief/clipbrief/internal/identity"
	"github.com/clipbrief/clipbrief/internal/lock"
	summarydomain "github.com/clipbrief/clipbrief/internal/summary/domain"
	summaryrepository "github.com/clipbrief/clipbrief/internal/summary/repository"
	usagedomain "github.com/clipbrief/clipbrief/internal/usage/domain"
	usagerepository "github.com/clipbrief/clipbrief/internal/usage/repository"
	userdomain "github.com/clipbrief/clipbrief/internal/user/domain"
	userrepository "github.com/clipbrief/clipbrief/internal/user/repository"
	"github.com/clipbrief/clipbrief/pkg/db"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	orch      *Orchestrator
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	ledger    usagedomain.Ledger
	summaries summarydomain.Store
	users     userdomain.Repository
}

type fixtureOption func(*fixtureDeps)

type fixtureDeps struct {
	ledger    usagedomain.Ledger
	summaries summarydomain.Store
	lockCfg   config.LockConfig
}

func withLedger(wrap func(usagedomain.Ledger) usagedomain.Ledger) fixtureOption {
	return func(d *fixtureDeps) { d.ledger = wrap(d.ledger) }
}

func withSummaries(wrap func(summarydomain.Store) summarydomain.Store) fixtureOption {
	return func(d *fixtureDeps) { d.summaries = wrap(d.summaries) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every goroutine on the same in-memory
	// database and sidesteps sqlite write-lock errors.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&userdomain.User{}, &usagedomain.UsageEvent{}, &summarydomain.Summary{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC))
	quota := &config.QuotaConfigHolder{}
	quota.Store(config.DefaultQuotaConfig())

	deps := &fixtureDeps{
		ledger:    usagerepository.Provide(db),
		summaries: summaryrepository.Provide(db),
		lockCfg: config.LockConfig{
			TTL:        2 * time.Second,
			Retries:    100,
			RetryDelay: 2 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(deps)
	}

	users := userrepository.Provide(db)

	admission := admissionservice.NewService(admissionservice.ServiceParam{
		Log:    zap.NewNop(),
		Ledger: deps.ledger,
		Users:  users,
		Quota:  quota,
		Clock:  fakeClock,
	})

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.NewLocker(client, config.Config{Lock: deps.lockCfg})

	orch := NewOrchestrator(OrchestratorParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Admission: admission,
		Ledger:    deps.ledger,
		Summaries: deps.summaries,
		Users:     users,
		Locker:    locker,
		Clock:     fakeClock,
	})

	return &fixture{
		orch:      orch,
		db:        db,
		node:      node,
		clock:     fakeClock,
		ledger:    deps.ledger,
		summaries: deps.summaries,
		users:     users,
	}
}

func (f *fixture) createUser(t *testing.T, plan userdomain.Plan) *userdomain.User {
	t.Helper()
	user := &userdomain.User{
		ID:    f.node.Generate(),
		Email: f.node.Generate().String() + "@example.com",
		Plan:  plan,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func (f *fixture) countEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&usagedomain.UsageEvent{}).Count(&n).Error)
	return n
}

func (f *fixture) countSummaries(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&summarydomain.Summary{}).Count(&n).Error)
	return n
}

func authedRequest(user *userdomain.User, videoID string) CreateRequest {
	return CreateRequest{
		Identity: identity.Identity{
			Kind:     identity.KindAuthenticated,
			UserID:   user.ID,
			ClientIP: "10.0.0.1",
		},
		VideoID:  videoID,
		VideoURL: "https://www.youtube.com/watch?v=" + videoID,
		Title:    "Video " + videoID,
	}
}

func anonRequest(fingerprint, ip, videoID string) CreateRequest {
	return CreateRequest{
		Identity: identity.Identity{
			Kind:        identity.KindAnonymous,
			Fingerprint: fingerprint,
			ClientIP:    ip,
		},
		VideoID:  videoID,
		VideoURL: "https://www.youtube.com/watch?v=" + videoID,
	}
}

func TestCreateSummaryRequiresVideo(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, userdomain.PlanFree)

	req := authedRequest(user, "dQw4w9WgXcQ")
	req.VideoID = ""
	_, err := f.orch.CreateSummary(context.Background(), req)
	require.ErrorIs(t, err, ErrVideoRequired)

	assert.EqualValues(t, 0, f.countEvents(t))
}

func TestUnresolvableIdentityDeniedBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)

	req := anonRequest("", "1.2.3.4", "dQw4w9WgXcQ")
	req.Identity.Kind = identity.KindUnresolvable

	result, err := f.orch.CreateSummary(context.Background(), req)
	require.ErrorIs(t, err, admissiondomain.ErrAdmissionDenied)
	require.NotNil(t, result)
	assert.False(t, result.Decision.Allowed)
	assert.Equal(t, admissiondomain.DenyUnresolvableIdentity, result.Decision.Code)

	assert.EqualValues(t, 0, f.countEvents(t))
	assert.EqualValues(t, 0, f.countSummaries(t))
}

func TestAnonymousSingleTrialThenDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.orch.CreateSummary(ctx, anonRequest("fp_abc", "1.2.3.4", "dQw4w9WgXcQ"))
	require.NoError(t, err)
	require.NotNil(t, result.Summary)
	assert.Equal(t, summarydomain.StatusPending, result.Summary.Status)
	assert.Equal(t, usagedomain.AnonymousUserID, result.Summary.UserID)

	var event usagedomain.UsageEvent
	require.NoError(t, f.db.First(&event).Error)
	assert.Equal(t, usagedomain.AnonymousUserID, event.UserID)
	assert.Equal(t, "fp_abc", event.BrowserFingerprint)
	assert.Equal(t, "1.2.3.4", event.ClientIP)
	assert.Equal(t, result.Summary.ID, event.SummaryID)

	// Same fingerprint, new IP.
	result, err = f.orch.CreateSummary(ctx, anonRequest("fp_abc", "9.9.9.9", "oHg5SJYRHA0"))
	require.ErrorIs(t, err, admissiondomain.ErrAdmissionDenied)
	assert.Equal(t, admissiondomain.DenyAnonymousUsed, result.Decision.Code)

	// New fingerprint, same IP. Either signal alone blocks.
	result, err = f.orch.CreateSummary(ctx, anonRequest("fp_other", "1.2.3.4", "oHg5SJYRHA0"))
	require.ErrorIs(t, err, admissiondomain.ErrAdmissionDenied)
	assert.Equal(t, admissiondomain.DenyAnonymousUsed, result.Decision.Code)

	assert.EqualValues(t, 1, f.countEvents(t))
	assert.EqualValues(t, 1, f.countSummaries(t))
}

func TestFreeUserLifetimeLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, userdomain.PlanFree)

	videos := []string{"vid_one", "vid_two", "vid_three"}
	for i, v := range videos {
		result, err := f.orch.CreateSummary(ctx, authedRequest(user, v))
		require.NoError(t, err, "summary %d must be admitted", i+1)
		assert.Equal(t, i+1, result.Decision.CurrentUsage)
	}

	result, err := f.orch.CreateSummary(ctx, authedRequest(user, "vid_four"))
	require.ErrorIs(t, err, admissiondomain.ErrAdmissionDenied)
	assert.Equal(t, admissiondomain.DenyFreeLimitReached, result.Decision.Code)
	assert.Equal(t, 3, result.Decision.CurrentUsage)
	assert.Contains(t, result.Decision.Reason, "lifetime limit of 3")

	assert.EqualValues(t, 3, f.countSummaries(t))

	// The cached display counter tracked the ledger.
	fresh, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.SummariesUsed)
}

func TestDeletingSummariesDoesNotRestoreQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, userdomain.PlanFree)

	ids := make([]snowflake.ID, 0, 3)
	for _, v := range []string{"a", "b", "c"} {
		result, err := f.orch.CreateSummary(ctx, authedRequest(user, v))
		require.NoError(t, err)
		ids = append(ids, result.Summary.ID)
	}
	for _, id := range ids {
		require.NoError(t, f.summaries.Delete(ctx, id))
	}
	assert.EqualValues(t, 0, f.countSummaries(t))
	assert.EqualValues(t, 3, f.countEvents(t), "ledger rows must survive summary deletion")

	_, err := f.orch.CreateSummary(ctx, authedRequest(user, "d"))
	require.ErrorIs(t, err, admissiondomain.ErrAdmissionDenied)
}

func TestProMonthlyWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, userdomain.PlanPro)

	// Exhaust August.
	for i := 0; i < 25; i++ {
		_, err := f.orch.CreateSummary(ctx, authedRequest(user, f.node.Generate().String()))
		require.NoError(t, err)
	}
	result, err := f.orch.CreateSummary(ctx, authedRequest(user, "over"))
	require.ErrorIs(t, err, admissiondomain.ErrAdmissionDenied)
	assert.Equal(t, admissiondomain.DenyProLimitReached, result.Decision.Code)
	require.NotNil(t, result.Decision.ResetsAt)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), *result.Decision.ResetsAt)

	// September resets the window.
	f.clock.Set(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	result, err = f.orch.CreateSummary(ctx, authedRequest(user, "september"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Decision.CurrentUsage)
}

type failingLedger struct {
	usagedomain.Ledger
}

func (f failingLedger) WithTrx(tx *gorm.DB) usagedomain.Ledger {
	return failingLedger{Ledger: f.Ledger.WithTrx(tx)}
}

func (f failingLedger) Append(ctx context.Context, event *usagedomain.UsageEvent) error {
	return errors.New("ledger unavailable")
}

func TestLedgerFailureRollsBackSummary(t *testing.T) {
	f := newFixture(t, withLedger(func(inner usagedomain.Ledger) usagedomain.Ledger {
		return failingLedger{Ledger: inner}
	}))
	user := f.createUser(t, userdomain.PlanFree)

	_, err := f.orch.CreateSummary(context.Background(), authedRequest(user, "vid"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, admissiondomain.ErrAdmissionDenied)

	assert.EqualValues(t, 0, f.countSummaries(t), "summary row must roll back with the ledger append")
	assert.EqualValues(t, 0, f.countEvents(t))

	fresh, ferr := f.users.FindByID(context.Background(), user.ID)
	require.NoError(t, ferr)
	assert.Equal(t, 0, fresh.SummariesUsed)
}

type failingStore struct {
	summarydomain.Store
}

func (f failingStore) WithTrx(tx *gorm.DB) summarydomain.Store {
	return failingStore{Store: f.Store.WithTrx(tx)}
}

func (f failingStore) Create(ctx context.Context, summary *summarydomain.Summary) error {
	return errors.New("store unavailable")
}

func TestSummaryFailureLeavesNoLedgerRow(t *testing.T) {
	f := newFixture(t, withSummaries(func(inner summarydomain.Store) summarydomain.Store {
		return failingStore{Store: inner}
	}))
	user := f.createUser(t, userdomain.PlanFree)

	_, err := f.orch.CreateSummary(context.Background(), authedRequest(user, "vid"))
	require.Error(t, err)

	assert.EqualValues(t, 0, f.countEvents(t), "no quota unit may be consumed without a summary")
}

func TestConcurrentCreatesConsumeLastSlotOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, userdomain.PlanFree)

	// Two of three lifetime slots already spent.
	for _, v := range []string{"a", "b"} {
		_, err := f.orch.CreateSummary(ctx, authedRequest(user, v))
		require.NoError(t, err)
	}

	const racers = 6
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.CreateSummary(ctx, authedRequest(user, "race"))
		}(i)
	}
	wg.Wait()

	allowed, denied := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			allowed++
		case errors.Is(err, admissiondomain.ErrAdmissionDenied):
			denied++
		default:
			t.Fatalf("unexpected racer error: %v", err)
		}
	}
	assert.Equal(t, 1, allowed, "exactly one racer may take the last slot")
	assert.Equal(t, racers-1, denied)

	assert.EqualValues(t, 3, f.countEvents(t))
	assert.EqualValues(t, 3, f.countSummaries(t))
}

func TestConcurrentAnonymousSharedIPSerializeOnLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Distinct fingerprints behind one NAT address. The shared IP lock key
	// must serialize them so the loser sees a clean denial.
	const racers = 4
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := anonRequest(fmt.Sprintf("fp_%d", i), "9.9.9.9", "race")
			_, errs[i] = f.orch.CreateSummary(ctx, req)
		}(i)
	}
	wg.Wait()

	allowed, denied := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			allowed++
		case errors.Is(err, admissiondomain.ErrAdmissionDenied):
			denied++
		default:
			t.Fatalf("unexpected racer error: %v", err)
		}
	}
	assert.Equal(t, 1, allowed, "one anonymous trial per shared IP")
	assert.Equal(t, racers-1, denied)
	assert.EqualValues(t, 1, f.countEvents(t))
}

type flakyLedger struct {
	usagedomain.Ledger
	failures *int
}

func (f flakyLedger) WithTrx(tx *gorm.DB) usagedomain.Ledger {
	return flakyLedger{Ledger: f.Ledger.WithTrx(tx), failures: f.failures}
}

func (f flakyLedger) Append(ctx context.Context, event *usagedomain.UsageEvent) error {
	if *f.failures > 0 {
		*f.failures--
		return errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)")
	}
	return f.Ledger.Append(ctx, event)
}

func TestSerializationConflictRetriedInsideLock(t *testing.T) {
	failures := 2
	f := newFixture(t, withLedger(func(inner usagedomain.Ledger) usagedomain.Ledger {
		return flakyLedger{Ledger: inner, failures: &failures}
	}))
	user := f.createUser(t, userdomain.PlanFree)

	result, err := f.orch.CreateSummary(context.Background(), authedRequest(user, "vid"))
	require.NoError(t, err, "conflict must be retried, not surfaced")
	require.NotNil(t, result.Summary)

	assert.Equal(t, 0, failures)
	assert.EqualValues(t, 1, f.countEvents(t))
	assert.EqualValues(t, 1, f.countSummaries(t))
}

func TestSerializationConflictExhaustedSurfaces(t *testing.T) {
	failures := serializationRetries + 1
	f := newFixture(t, withLedger(func(inner usagedomain.Ledger) usagedomain.Ledger {
		return flakyLedger{Ledger: inner, failures: &failures}
	}))
	user := f.createUser(t, userdomain.PlanFree)

	_, err := f.orch.CreateSummary(context.Background(), authedRequest(user, "vid"))
	require.Error(t, err)
	assert.True(t, db.IsSerializationErr(err))

	assert.EqualValues(t, 0, f.countEvents(t))
	assert.EqualValues(t, 0, f.countSummaries(t))
}
