package quiz

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/calendar"
	"github.com/warp/points-engine/catalog"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/syncengine"
)

// QuestionSource returns the current question catalog.
type QuestionSource func() []catalog.Question

// Options tunes an Engine. Zero values pick defaults.
type Options struct {
	Location *time.Location
	Now      func() time.Time
	Rand     *rand.Rand
	MinBet   int
	MaxBet   int // 0 means no upper limit beyond the balance
	Logger   *zap.Logger
}

// Engine runs the quiz against the synchronized ledger. Pending answers are
// held here until Submit; everything else is derived from the document.
type Engine struct {
	sync      *syncengine.Engine
	questions QuestionSource
	loc       *time.Location
	now       func() time.Time
	minBet    int
	maxBet    int
	log       *zap.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	pending *pending
}

type pending struct {
	wagerID string
	answers []string
}

func NewEngine(se *syncengine.Engine, questions QuestionSource, opts Options) *Engine {
	e := &Engine{
		sync:      se,
		questions: questions,
		loc:       opts.Location,
		now:       opts.Now,
		minBet:    opts.MinBet,
		maxBet:    opts.MaxBet,
		log:       opts.Logger,
		rng:       opts.Rand,
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.minBet < 1 {
		e.minBet = 1
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return e
}

// =============================================================================
// VIEW
// =============================================================================

// QuestionView is a drawn question without its answer.
type QuestionView struct {
	Code     string   `json:"code"`
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
}

// Quiz is the user-facing state of today's quiz.
type Quiz struct {
	Status    Status          `json:"status"`
	Day       calendar.DayKey `json:"day"`
	WagerID   string          `json:"wagerId,omitempty"`
	Bet       int             `json:"bet,omitempty"`
	Questions []QuestionView  `json:"questions,omitempty"`
	Answers   []string        `json:"answers,omitempty"`
	Result    *Result         `json:"result,omitempty"`
}

func viewsOf(questions []catalog.Question) []QuestionView {
	out := make([]QuestionView, len(questions))
	for i, q := range questions {
		out[i] = QuestionView{Code: q.Code, Question: q.Question, Choices: append([]string(nil), q.Choices...)}
	}
	return out
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Start places today's wager and draws its questions.
func (e *Engine) Start(ctx context.Context, bet int) (Quiz, error) {
	if bet < e.minBet || (e.maxBet > 0 && bet > e.maxBet) {
		return Quiz{}, fmt.Errorf("bet %d: %w", bet, ErrInvalidBet)
	}
	pool := e.questions()

	e.mu.Lock()
	defer e.mu.Unlock()

	at := e.now()
	day := calendar.DayOf(at, e.loc)
	var wager ledger.Record

	_, err := e.sync.Apply(ctx, func(cur ledger.Document) (ledger.Document, error) {
		if _, ok := WagerOn(cur.Records, day); ok {
			return cur, ErrAlreadyAttemptedToday
		}
		if err := ledger.CheckAffordable(cur.Records, bet); err != nil {
			return cur, err
		}
		drawn, err := Draw(Eligible(pool, cur.Records), QuestionsPerQuiz, e.rng)
		if err != nil {
			return cur, err
		}
		wager = ledger.NewQuizWager(bet, drawn, at)
		return ledger.Append(cur, wager), nil
	})
	if err != nil {
		return Quiz{}, err
	}

	e.pending = &pending{wagerID: wager.ID, answers: make([]string, len(wager.Questions))}
	e.log.Info("quiz started", zap.String("wager", wager.ID), zap.Int("bet", bet))
	return e.inProgress(wager, day), nil
}

// Answer records (or overwrites) the choice for question index.
func (e *Engine) Answer(index int, choice string) (Quiz, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, wager, ok := e.pendingLocked()
	if !ok {
		return Quiz{}, ErrNoQuizInProgress
	}
	if index < 0 || index >= len(wager.Questions) {
		return Quiz{}, fmt.Errorf("question %d: %w", index, ErrInvalidChoice)
	}
	choice = strings.ToUpper(strings.TrimSpace(choice))
	if !wager.Questions[index].HasChoice(choice) {
		return Quiz{}, fmt.Errorf("choice %q: %w", choice, ErrInvalidChoice)
	}
	p.answers[index] = choice
	return e.inProgress(wager, calendar.DayOf(e.now(), e.loc)), nil
}

// Submit grades the pending answers and settles the wager.
func (e *Engine) Submit(ctx context.Context) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, _, ok := e.pendingLocked()
	if !ok {
		if doc, err := e.sync.Current(); err == nil &&
			StatusOn(doc.Records, calendar.DayOf(e.now(), e.loc)) == Finished {
			return Result{}, ErrQuizAlreadyFinished
		}
		return Result{}, ErrNoQuizInProgress
	}
	for _, a := range p.answers {
		if a == "" {
			return Result{}, ErrIncompleteAnswers
		}
	}

	at := e.now()
	answers := append([]string(nil), p.answers...)
	var result Result
	_, err := e.sync.Apply(ctx, func(cur ledger.Document) (ledger.Document, error) {
		next, r, err := Settle(cur, p.wagerID, answers, at)
		result = r
		return next, err
	})
	if err != nil {
		if errors.Is(err, ErrQuizAlreadyFinished) || errors.Is(err, ErrNoQuizInProgress) {
			e.pending = nil
		}
		return Result{}, err
	}

	e.pending = nil
	result.Day = calendar.KeyOf(result.Date, e.loc)
	e.log.Info("quiz submitted",
		zap.String("wager", result.WagerID),
		zap.Int("correct", result.Correct),
		zap.Int("payout", result.Payout),
	)
	return result, nil
}

// Current describes today's quiz, resuming today's unfinished wager if one
// is stored.
func (e *Engine) Current() (Quiz, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, err := e.sync.Current()
	if err != nil {
		return Quiz{}, err
	}
	day := calendar.DayOf(e.now(), e.loc)

	if _, wager, ok := e.pendingLocked(); ok {
		return e.inProgress(wager, day), nil
	}
	q := Quiz{Status: StatusOn(doc.Records, day), Day: day.Key()}
	if q.Status == Finished {
		if r, err := Review(doc, day); err == nil {
			q.WagerID, q.Bet, q.Result = r.WagerID, r.Bet, &r
		}
	}
	return q, nil
}

// Review replays the quiz finished on the given day.
func (e *Engine) Review(key calendar.DayKey) (Result, error) {
	doc, err := e.sync.Current()
	if err != nil {
		return Result{}, err
	}
	day, err := key.Day(e.loc)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	return Review(doc, day)
}

// History lists all finished quizzes, newest first.
func (e *Engine) History() ([]Result, error) {
	doc, err := e.sync.Current()
	if err != nil {
		return nil, err
	}
	return History(doc, e.loc), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// pendingLocked aligns the pending answers with today's open wager in the
// snapshot. Answers for a wager that is no longer open are dropped.
func (e *Engine) pendingLocked() (*pending, ledger.Record, bool) {
	doc, err := e.sync.Current()
	if err != nil {
		return nil, ledger.Record{}, false
	}
	w, ok := OpenWager(doc.Records, calendar.DayOf(e.now(), e.loc))
	if !ok {
		e.pending = nil
		return nil, ledger.Record{}, false
	}
	if e.pending == nil || e.pending.wagerID != w.ID {
		e.pending = &pending{wagerID: w.ID, answers: make([]string, len(w.Questions))}
	}
	return e.pending, w, true
}

func (e *Engine) inProgress(w ledger.Record, day calendar.Day) Quiz {
	q := Quiz{
		Status:    InProgress,
		Day:       day.Key(),
		WagerID:   w.ID,
		Bet:       w.BetPoints,
		Questions: viewsOf(w.Questions),
	}
	if e.pending != nil && e.pending.wagerID == w.ID {
		q.Answers = append([]string(nil), e.pending.answers...)
	}
	return q
}
