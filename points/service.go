/*
Package points is the controller every surface (HTTP, CLI) drives.

PURPOSE:
  Service owns the pieces one running process needs: the sync engine, the
  loaded catalog, the quiz engine and the per-action guard table. There is
  no package-level state; callers construct a Service and pass it around.

ACTION FLOW:
  1. Acquire the action's guard slot (ErrActionInFlight if busy)
  2. Validate input that does not need the document
  3. sync.Apply: read fresh, re-check caps/balance on the fresh copy,
     append, CAS-write
  4. Record the outcome in metrics, refresh the balance gauge
  5. Callers re-derive views from State()

  Rules are always re-checked inside the mutator, against the document just
  read, never against the possibly stale snapshot.

SIGN-IN:
  Once per local day. The delta is drawn uniformly from SignInDeltas and
  may be negative. lastSignInDate is set to today's key.

SEE ALSO:
  - guard.go: per-action Idle/InFlight slots
  - syncengine/engine.go: read-modify-write with CAS
  - quiz/engine.go: the quiz state machine this service fronts
*/
package points

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/points-engine/calendar"
	"github.com/warp/points-engine/catalog"
	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/metrics"
	"github.com/warp/points-engine/quiz"
	"github.com/warp/points-engine/syncengine"
)

// SignInDeltas are the possible daily sign-in awards.
var SignInDeltas = []int{-5, 0, 5, 10}

// CatalogLoader supplies the task, reward and question lists.
type CatalogLoader interface {
	Load(ctx context.Context) catalog.Catalog
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	Location *time.Location
	Now      func() time.Time
	// Rand seeds both the sign-in draw and the quiz draw.
	Rand         *rand.Rand
	Logger       *zap.Logger
	Metrics      *metrics.Recorder
	StoreTimeout time.Duration
	QuizMinBet   int
	QuizMaxBet   int
}

// Service is the explicit state object for one user's ledger.
type Service struct {
	sync    *syncengine.Engine
	loader  CatalogLoader
	quiz    *quiz.Engine
	guards  *guardTable
	loc     *time.Location
	now     func() time.Time
	rng     *rand.Rand // sign-in only; used under the signin guard
	log     *zap.Logger
	metrics *metrics.Recorder
	timeout time.Duration

	catMu   sync.RWMutex
	catalog catalog.Catalog
}

// New wires a Service. Nothing is read until Reload.
func New(se *syncengine.Engine, loader CatalogLoader, opts Options) *Service {
	s := &Service{
		sync:    se,
		loader:  loader,
		guards:  newGuardTable(),
		loc:     opts.Location,
		now:     opts.Now,
		log:     opts.Logger,
		metrics: opts.Metrics,
		timeout: opts.StoreTimeout,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}

	quizRand := opts.Rand
	if quizRand == nil {
		quizRand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s.rng = rand.New(rand.NewPCG(quizRand.Uint64(), quizRand.Uint64()))

	s.quiz = quiz.NewEngine(se, s.questions, quiz.Options{
		Location: s.loc,
		Now:      s.now,
		Rand:     quizRand,
		MinBet:   opts.QuizMinBet,
		MaxBet:   opts.QuizMaxBet,
		Logger:   s.log.Named("quiz"),
	})
	return s
}

// =============================================================================
// LOADING
// =============================================================================

// Reload re-reads the catalog and the document concurrently. A failing
// catalog source degrades to an empty list; a failing document read is
// returned and the previous snapshot is kept.
func (s *Service) Reload(ctx context.Context) error {
	return s.run(ctx, ActionReload, func(ctx context.Context) error {
		var (
			g   errgroup.Group
			cat catalog.Catalog
		)
		g.Go(func() error {
			cat = s.loader.Load(ctx)
			return nil
		})
		g.Go(func() error {
			_, _, err := s.sync.Load(ctx)
			return err
		})
		err := g.Wait()

		s.catMu.Lock()
		s.catalog = cat
		s.catMu.Unlock()
		return err
	})
}

// Catalog returns the loaded catalog.
func (s *Service) Catalog() catalog.Catalog {
	s.catMu.RLock()
	defer s.catMu.RUnlock()
	return s.catalog
}

func (s *Service) questions() []catalog.Question {
	return s.Catalog().Questions
}

// =============================================================================
// READ MODELS
// =============================================================================

// Dashboard is everything the home screen shows, derived from the snapshot.
type Dashboard struct {
	Day      calendar.DayKey     `json:"day"`
	Summary  ledger.Summary      `json:"summary"`
	SignedIn bool                `json:"signedInToday"`
	Tasks    []ledger.TaskView   `json:"tasks"`
	Rewards  []ledger.RewardView `json:"rewards"`
	Vouchers []ledger.Record     `json:"vouchers"`
	Quiz     quiz.Quiz           `json:"quiz"`
	Busy     []Action            `json:"busy"`
}

// State derives the dashboard for the current local day.
func (s *Service) State() (Dashboard, error) {
	doc, err := s.sync.Current()
	if err != nil {
		return Dashboard{}, err
	}
	q, err := s.quiz.Current()
	if err != nil {
		return Dashboard{}, err
	}

	day := s.today()
	cat := s.Catalog()
	vouchers := ledger.OpenVouchers(doc.Records)
	ledger.SortVouchers(vouchers)

	return Dashboard{
		Day:      day.Key(),
		Summary:  ledger.Summarize(doc.Records),
		SignedIn: ledger.SignedInOn(doc, day),
		Tasks:    ledger.DeriveTaskViews(cat.Tasks, doc.Records, day),
		Rewards:  ledger.DeriveRewardViews(cat.Rewards, doc.Records, day),
		Vouchers: vouchers,
		Quiz:     q,
		Busy:     s.guards.busy(),
	}, nil
}

// Records returns the full ledger in append order.
func (s *Service) Records() ([]ledger.Record, error) {
	doc, err := s.sync.Current()
	if err != nil {
		return nil, err
	}
	return doc.Records, nil
}

// Vouchers returns unused vouchers, newest first.
func (s *Service) Vouchers() ([]ledger.Record, error) {
	doc, err := s.sync.Current()
	if err != nil {
		return nil, err
	}
	v := ledger.OpenVouchers(doc.Records)
	ledger.SortVouchers(v)
	return v, nil
}

// Revisions lists the store's write history when it keeps one.
func (s *Service) Revisions(ctx context.Context, limit int) ([]docstore.Revision, error) {
	lister, ok := s.sync.Store().(docstore.RevisionLister)
	if !ok {
		return nil, docstore.ErrNoHistory
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return lister.Revisions(ctx, limit)
}

// =============================================================================
// ACTIONS
// =============================================================================

// SignIn awards today's random sign-in delta.
func (s *Service) SignIn(ctx context.Context) (ledger.Record, error) {
	var rec ledger.Record
	err := s.run(ctx, ActionSignIn, func(ctx context.Context) error {
		at := s.now()
		day := calendar.DayOf(at, s.loc)
		delta := SignInDeltas[s.rng.IntN(len(SignInDeltas))]

		_, err := s.sync.Apply(ctx, func(cur ledger.Document) (ledger.Document, error) {
			if ledger.SignedInOn(cur, day) {
				return cur, ledger.ErrAlreadySignedInToday
			}
			rec = ledger.NewSignIn(delta, at)
			next := ledger.Append(cur, rec)
			next.LastSignInDate = day.Key()
			return next, nil
		})
		return err
	})
	return rec, err
}

// CompleteTask appends one completion of the task with code.
func (s *Service) CompleteTask(ctx context.Context, code string) (ledger.Record, error) {
	var rec ledger.Record
	err := s.run(ctx, ActionTask, func(ctx context.Context) error {
		task, ok := s.Catalog().Task(code)
		if !ok {
			return ledger.ErrTaskNotFound
		}
		at := s.now()
		day := calendar.DayOf(at, s.loc)

		_, err := s.sync.Apply(ctx, func(cur ledger.Document) (ledger.Document, error) {
			if err := ledger.CheckTaskCap(task, cur.Records, day); err != nil {
				return cur, err
			}
			rec = ledger.NewTaskCompletion(task, at)
			return ledger.Append(cur, rec), nil
		})
		return err
	})
	return rec, err
}

// RedeemReward buys the reward with code and returns the new voucher.
func (s *Service) RedeemReward(ctx context.Context, code string) (ledger.Record, error) {
	var rec ledger.Record
	err := s.run(ctx, ActionReward, func(ctx context.Context) error {
		reward, ok := s.Catalog().Reward(code)
		if !ok {
			return ledger.ErrRewardNotFound
		}
		at := s.now()
		day := calendar.DayOf(at, s.loc)

		_, err := s.sync.Apply(ctx, func(cur ledger.Document) (ledger.Document, error) {
			if err := ledger.CheckRewardCap(reward, cur.Records, day); err != nil {
				return cur, err
			}
			if err := ledger.CheckAffordable(cur.Records, reward.Points); err != nil {
				return cur, err
			}
			rec = ledger.NewRedemption(reward, at)
			return ledger.Append(cur, rec), nil
		})
		return err
	})
	return rec, err
}

// UseVoucher marks the voucher with id used.
func (s *Service) UseVoucher(ctx context.Context, id string) (ledger.Record, error) {
	var rec ledger.Record
	err := s.run(ctx, ActionVoucher, func(ctx context.Context) error {
		at := s.now()
		_, err := s.sync.Apply(ctx, func(cur ledger.Document) (ledger.Document, error) {
			next, used, err := ledger.UseVoucher(cur, id, at)
			rec = used
			return next, err
		})
		return err
	})
	return rec, err
}

// AddManual appends a manual adjustment. points is user input such as "12"
// or "-3".
func (s *Service) AddManual(ctx context.Context, points, reason string) (ledger.Record, error) {
	var rec ledger.Record
	err := s.run(ctx, ActionManual, func(ctx context.Context) error {
		n, err := ledger.ParsePoints(points)
		if err != nil {
			return err
		}
		why, err := ledger.ValidateReason(reason)
		if err != nil {
			return err
		}
		rec = ledger.NewManual(n, why, s.now())
		_, err = s.sync.Apply(ctx, func(cur ledger.Document) (ledger.Document, error) {
			return ledger.Append(cur, rec), nil
		})
		return err
	})
	return rec, err
}

// Clear replaces the document with an empty one through the normal CAS path.
func (s *Service) Clear(ctx context.Context) error {
	return s.run(ctx, ActionAdmin, func(ctx context.Context) error {
		out, err := s.sync.Apply(ctx, func(ledger.Document) (ledger.Document, error) {
			return ledger.Empty(), nil
		})
		if err == nil {
			s.log.Warn("ledger cleared", zap.Int("records_removed", len(out.Before.Records)))
		}
		return err
	})
}

// =============================================================================
// QUIZ
// =============================================================================

// Quiz describes today's quiz.
func (s *Service) Quiz() (quiz.Quiz, error) { return s.quiz.Current() }

// StartQuiz places today's wager.
func (s *Service) StartQuiz(ctx context.Context, bet int) (quiz.Quiz, error) {
	var q quiz.Quiz
	err := s.run(ctx, ActionQuizStart, func(ctx context.Context) error {
		var err error
		q, err = s.quiz.Start(ctx, bet)
		return err
	})
	return q, err
}

// AnswerQuiz records a choice locally. Nothing is written.
func (s *Service) AnswerQuiz(index int, choice string) (quiz.Quiz, error) {
	return s.quiz.Answer(index, choice)
}

// SubmitQuiz grades and settles the pending quiz.
func (s *Service) SubmitQuiz(ctx context.Context) (quiz.Result, error) {
	var r quiz.Result
	err := s.run(ctx, ActionQuizSubmit, func(ctx context.Context) error {
		var err error
		r, err = s.quiz.Submit(ctx)
		return err
	})
	return r, err
}

// ReviewQuiz replays the quiz finished on day.
func (s *Service) ReviewQuiz(day calendar.DayKey) (quiz.Result, error) {
	return s.quiz.Review(day)
}

// QuizHistory lists finished quizzes, newest first.
func (s *Service) QuizHistory() ([]quiz.Result, error) { return s.quiz.History() }

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) today() calendar.Day { return calendar.DayOf(s.now(), s.loc) }

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// run guards, times out, logs and counts one action.
func (s *Service) run(ctx context.Context, a Action, fn func(context.Context) error) error {
	release, err := s.guards.acquire(a)
	if err != nil {
		s.metrics.Action(string(a), err)
		return err
	}
	defer release()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = fn(ctx)
	s.metrics.Action(string(a), err)

	log := s.log.With(zap.String("action", string(a)))
	switch {
	case err == nil:
		if doc, cerr := s.sync.Current(); cerr == nil {
			s.metrics.Balance(ledger.Balance(doc.Records))
		}
		log.Debug("action done")
	case ledger.IsClientError(err) || ledger.IsNotFound(err):
		log.Info("action refused", zap.String("code", ledger.Code(err)), zap.Error(err))
	default:
		log.Warn("action failed", zap.Error(err))
	}
	return err
}
