package points_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/catalog"
	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/docstore/memory"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/metrics"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/syncengine"
)

// =============================================================================
// FIXTURES
// =============================================================================

type staticLoader struct{ cat catalog.Catalog }

func (l staticLoader) Load(context.Context) catalog.Catalog { return l.cat }

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func intPtr(n int) *int { return &n }

func testCatalog() catalog.Catalog {
	return catalog.Catalog{
		Tasks: []catalog.Task{
			{Code: "read", Name: "Read 30 min", Points: 5, MaxDailyTimes: intPtr(2)},
			{Code: "run", Name: "Run", Points: 10},
		},
		Rewards: []catalog.Reward{
			{Code: "tv", Name: "30 min TV", Points: 20, MaxDailyTimes: intPtr(1)},
			{Code: "cake", Name: "Cake", Points: 8},
		},
		Questions: []catalog.Question{
			{Code: "q1", Question: "1+1?", Choices: []string{"1", "2"}, Answer: "B"},
			{Code: "q2", Question: "2+2?", Choices: []string{"4", "5"}, Answer: "A"},
			{Code: "q3", Question: "3+3?", Choices: []string{"5", "6"}, Answer: "B"},
		},
	}
}

type harness struct {
	svc   *points.Service
	store *memory.Store
	clock *clock
	reg   *prometheus.Registry
}

func newHarness(t *testing.T, store docstore.Store) *harness {
	t.Helper()
	mem, _ := store.(*memory.Store)
	h := &harness{
		store: mem,
		clock: &clock{t: time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)},
		reg:   prometheus.NewRegistry(),
	}
	h.svc = points.New(syncengine.New(store), staticLoader{cat: testCatalog()}, points.Options{
		Location: time.UTC,
		Now:      h.clock.Now,
		Rand:     rand.New(rand.NewPCG(3, 4)),
		Metrics:  metrics.New(h.reg),
	})
	require.NoError(t, h.svc.Reload(context.Background()))
	return h
}

func (h *harness) balance(t *testing.T) int {
	t.Helper()
	d, err := h.svc.State()
	require.NoError(t, err)
	return d.Summary.Balance
}

func (h *harness) seed(t *testing.T, n string) {
	t.Helper()
	_, err := h.svc.AddManual(context.Background(), n, "seed")
	require.NoError(t, err)
}

func (h *harness) nextDay() { h.clock.t = h.clock.t.Add(24 * time.Hour) }

// =============================================================================
// LOADING
// =============================================================================

func TestState_BeforeReloadIsNotLoaded(t *testing.T) {
	svc := points.New(syncengine.New(memory.New()), staticLoader{}, points.Options{})

	_, err := svc.State()

	assert.ErrorIs(t, err, ledger.ErrNotLoaded)
}

func TestReload_TransportFailureKeepsSnapshot(t *testing.T) {
	// GIVEN: a loaded ledger with balance 15
	// WHEN: the store starts failing and a reload is attempted
	// THEN: the reload fails as a transport error and the dashboard still
	//       shows the last good state

	h := newHarness(t, memory.New())
	h.seed(t, "15")
	h.store.Fail(errors.New("connection reset"))

	err := h.svc.Reload(context.Background())

	assert.ErrorIs(t, err, ledger.ErrTransport)
	assert.Equal(t, 15, h.balance(t))
	assert.Len(t, h.svc.Catalog().Tasks, 2)
}

// =============================================================================
// SIGN-IN
// =============================================================================

func TestSignIn_OncePerLocalDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, memory.New())

	rec, err := h.svc.SignIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeSignIn, rec.Type)
	assert.Contains(t, points.SignInDeltas, rec.Points)

	_, err = h.svc.SignIn(ctx)
	assert.ErrorIs(t, err, ledger.ErrAlreadySignedInToday)

	d, err := h.svc.State()
	require.NoError(t, err)
	assert.True(t, d.SignedIn)
	assert.Equal(t, rec.Points, d.Summary.Balance)

	h.nextDay()
	_, err = h.svc.SignIn(ctx)
	assert.NoError(t, err)
}

// =============================================================================
// TASKS AND REWARDS
// =============================================================================

func TestCompleteTask_CapAcrossDays(t *testing.T) {
	// GIVEN: "read" may be completed twice per day
	// WHEN: completing it three times today, then once tomorrow
	// THEN: the third attempt is refused and tomorrow starts fresh

	ctx := context.Background()
	h := newHarness(t, memory.New())

	for i := 0; i < 2; i++ {
		_, err := h.svc.CompleteTask(ctx, "read")
		require.NoError(t, err)
	}
	_, err := h.svc.CompleteTask(ctx, "read")

	var capErr *ledger.DailyCapError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Max)
	assert.Equal(t, 10, h.balance(t))

	d, err := h.svc.State()
	require.NoError(t, err)
	assert.True(t, d.Tasks[0].IsCompleted)
	assert.Equal(t, 0, *d.Tasks[0].Remaining)
	assert.Nil(t, d.Tasks[1].Remaining)

	h.nextDay()
	_, err = h.svc.CompleteTask(ctx, "read")
	require.NoError(t, err)
	d, err = h.svc.State()
	require.NoError(t, err)
	assert.Equal(t, 1, d.Tasks[0].CompletedCount)
	assert.Equal(t, 15, d.Summary.Balance)
}

func TestCompleteTask_UnknownCode(t *testing.T) {
	h := newHarness(t, memory.New())

	_, err := h.svc.CompleteTask(context.Background(), "swim")

	assert.ErrorIs(t, err, ledger.ErrTaskNotFound)
	assert.Equal(t, docstore.Token(""), h.store.Token())
}

func TestRedeemReward_InsufficientBalanceWritesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, memory.New())
	h.seed(t, "10")
	before := h.store.Token()

	_, err := h.svc.RedeemReward(ctx, "tv")

	var balErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, 10, balErr.Balance)
	assert.Equal(t, 20, balErr.Required)
	assert.Equal(t, before, h.store.Token())
	assert.Equal(t, 10, h.balance(t))
}

func TestRedeemAndUseVoucher(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, memory.New())
	h.seed(t, "50")

	voucher, err := h.svc.RedeemReward(ctx, "tv")
	require.NoError(t, err)
	assert.Equal(t, -20, voucher.Points)
	assert.Equal(t, 30, h.balance(t))

	_, err = h.svc.RedeemReward(ctx, "tv")
	assert.ErrorIs(t, err, ledger.ErrDailyCapReached)

	open, err := h.svc.Vouchers()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, voucher.ID, open[0].ID)

	used, err := h.svc.UseVoucher(ctx, voucher.ID)
	require.NoError(t, err)
	assert.True(t, used.Used)
	require.NotNil(t, used.UsedAt)
	assert.Equal(t, 30, h.balance(t), "using a voucher does not change the balance")

	_, err = h.svc.UseVoucher(ctx, voucher.ID)
	assert.ErrorIs(t, err, ledger.ErrVoucherAlreadyUsed)
	_, err = h.svc.UseVoucher(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrVoucherNotFound)

	open, err = h.svc.Vouchers()
	require.NoError(t, err)
	assert.Empty(t, open)
}

// =============================================================================
// MANUAL AND ADMIN
// =============================================================================

func TestAddManual_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, memory.New())

	rec, err := h.svc.AddManual(ctx, " -3 ", "  broke a cup ")
	require.NoError(t, err)
	assert.Equal(t, -3, rec.Points)
	assert.Equal(t, "broke a cup", rec.Reason)

	_, err = h.svc.AddManual(ctx, "1.5", "half")
	assert.ErrorIs(t, err, ledger.ErrInvalidPoints)
	_, err = h.svc.AddManual(ctx, "0", "nothing")
	assert.ErrorIs(t, err, ledger.ErrInvalidPoints)
	_, err = h.svc.AddManual(ctx, "4", "   ")
	assert.ErrorIs(t, err, ledger.ErrReasonRequired)

	assert.Equal(t, -3, h.balance(t))
}

func TestClear_WritesEmptyDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, memory.New())
	h.seed(t, "40")
	_, err := h.svc.SignIn(ctx)
	require.NoError(t, err)

	require.NoError(t, h.svc.Clear(ctx))

	records, err := h.svc.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
	d, err := h.svc.State()
	require.NoError(t, err)
	assert.False(t, d.SignedIn)

	revs, err := h.svc.Revisions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, revs, 3)
	assert.Equal(t, 0, revs[0].Records)
}

// =============================================================================
// QUIZ
// =============================================================================

func TestQuiz_ThroughService(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, memory.New())
	h.seed(t, "30")
	answers := map[string]string{}
	for _, q := range testCatalog().Questions {
		answers[q.Code] = q.Answer
	}

	q, err := h.svc.StartQuiz(ctx, 10)
	require.NoError(t, err)
	for i, qv := range q.Questions {
		_, err = h.svc.AnswerQuiz(i, answers[qv.Code])
		require.NoError(t, err)
	}
	res, err := h.svc.SubmitQuiz(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Correct)
	assert.Equal(t, 40, h.balance(t))

	d, err := h.svc.State()
	require.NoError(t, err)
	assert.Equal(t, "finished", string(d.Quiz.Status))

	hist, err := h.svc.QuizHistory()
	require.NoError(t, err)
	assert.Len(t, hist, 1)
	r, err := h.svc.ReviewQuiz(d.Day)
	require.NoError(t, err)
	assert.Equal(t, res.WagerID, r.WagerID)
}

// =============================================================================
// GUARDS
// =============================================================================

// gateStore blocks the first Write until released.
type gateStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	gated   bool
}

func (g *gateStore) Write(ctx context.Context, doc ledger.Document, token docstore.Token) (docstore.Token, error) {
	if !g.gated {
		g.gated = true
		close(g.entered)
		<-g.release
	}
	return g.Store.Write(ctx, doc, token)
}

func TestGuard_SameActionRefusedOtherActionsProceed(t *testing.T) {
	// GIVEN: a sign-in blocked inside its store write
	// WHEN: a second sign-in and a reload are invoked meanwhile
	// THEN: the second sign-in fails as in-flight, the reload succeeds

	ctx := context.Background()
	gate := &gateStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, gate)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.SignIn(ctx)
		done <- err
	}()
	<-gate.entered

	_, err := h.svc.SignIn(ctx)
	assert.ErrorIs(t, err, ledger.ErrActionInFlight)
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.False(t, ledger.IsRetryable(err))

	assert.NoError(t, h.svc.Reload(ctx))
	d, err := h.svc.State()
	require.NoError(t, err)
	assert.Equal(t, []points.Action{points.ActionSignIn}, d.Busy)

	close(gate.release)
	require.NoError(t, <-done)

	d, err = h.svc.State()
	require.NoError(t, err)
	assert.Empty(t, d.Busy)
	assert.True(t, d.SignedIn)
}

// =============================================================================
// METRICS
// =============================================================================

func TestActions_AreCounted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, memory.New())

	_, err := h.svc.SignIn(ctx)
	require.NoError(t, err)
	_, _ = h.svc.SignIn(ctx)
	_, _ = h.svc.CompleteTask(ctx, "swim")

	got := counters(t, h.reg, "points_actions_total")
	assert.Equal(t, 1.0, got["action=signin,outcome=ok"])
	assert.Equal(t, 1.0, got["action=signin,outcome=rejected"])
	assert.Equal(t, 1.0, got["action=task,outcome=not_found"])
	assert.Equal(t, 1.0, got["action=reload,outcome=ok"])
}

func counters(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			out[strings.Join(labels, ",")] = m.GetCounter().GetValue()
		}
	}
	return out
}
