/*
Package quiz implements the daily betting quiz.

PURPOSE:
  Once per local day the user may bet points on two multiple-choice
  questions. The bet is debited when the quiz starts; the payout depends on
  how many answers are right:

    correct | payout | net
    --------+--------+------
       0    |   0    | -bet
       1    |  bet   |   0
       2    | 2*bet  | +bet

STATES (per local day):
  NoAttempt -> InProgress -> Finished

  The wager record is the state: no wager today is NoAttempt, an unfinished
  wager is InProgress, a finished one is Finished. Pending answers live in
  memory only until Submit.

QUESTION POOL:
  A question answered correctly in any earlier quiz is never drawn again.
  Draws are without replacement from the remaining pool.

SEE ALSO:
  - engine.go: the stateful engine wired to the sync engine
  - ledger/types.go: wager and payout record fields
*/
package quiz

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/warp/points-engine/calendar"
	"github.com/warp/points-engine/catalog"
	"github.com/warp/points-engine/ledger"
)

// QuestionsPerQuiz is the number of questions drawn per wager.
const QuestionsPerQuiz = 2

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrAlreadyAttemptedToday    = ledger.NewFailure(ledger.ErrBusinessRule, "quiz_already_attempted", "a quiz was already started today")
	ErrInsufficientBalance      = ledger.ErrInsufficientBalance
	ErrInsufficientQuestionPool = ledger.NewFailure(ledger.ErrBusinessRule, "quiz_pool_exhausted", "not enough unanswered questions left")
	ErrQuizAlreadyFinished      = ledger.NewFailure(ledger.ErrBusinessRule, "quiz_finished", "the quiz was already submitted")

	ErrInvalidBet        = ledger.NewFailure(ledger.ErrValidation, "invalid_bet", "bet is outside the allowed range")
	ErrIncompleteAnswers = ledger.NewFailure(ledger.ErrValidation, "incomplete_answers", "every question needs an answer")
	ErrInvalidChoice     = ledger.NewFailure(ledger.ErrValidation, "invalid_choice", "no such question or choice")

	ErrNoQuizInProgress = ledger.NewFailure(ledger.ErrNotFound, "no_quiz", "no quiz in progress")
	ErrNoQuizOnDay      = ledger.NewFailure(ledger.ErrNotFound, "no_quiz_on_day", "no finished quiz on that day")
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	NoAttempt  Status = "no_attempt"
	InProgress Status = "in_progress"
	Finished   Status = "finished"
)

// WagerOn returns the wager placed during day, if any.
func WagerOn(records []ledger.Record, day calendar.Day) (ledger.Record, bool) {
	for _, r := range records {
		if r.IsQuizWagerRecord() && day.Contains(r.Date) {
			return r, true
		}
	}
	return ledger.Record{}, false
}

// StatusOn derives the quiz state for day.
func StatusOn(records []ledger.Record, day calendar.Day) Status {
	w, ok := WagerOn(records, day)
	switch {
	case !ok:
		return NoAttempt
	case w.Finished:
		return Finished
	default:
		return InProgress
	}
}

// OpenWager returns day's wager if it is still unfinished. A wager left
// open on an earlier day is not resumed; its bet stays forfeited.
func OpenWager(records []ledger.Record, day calendar.Day) (ledger.Record, bool) {
	w, ok := WagerOn(records, day)
	if !ok || w.Finished {
		return ledger.Record{}, false
	}
	return w, true
}

// =============================================================================
// QUESTION POOL
// =============================================================================

// SolvedCodes lists question codes answered correctly in any finished quiz.
func SolvedCodes(records []ledger.Record) map[string]bool {
	solved := map[string]bool{}
	for _, r := range records {
		if !r.IsQuizWagerRecord() {
			continue
		}
		for _, res := range r.QuestionResults {
			if res.Correct {
				solved[res.Code] = true
			}
		}
	}
	return solved
}

// Eligible filters out solved questions.
func Eligible(questions []catalog.Question, records []ledger.Record) []catalog.Question {
	solved := SolvedCodes(records)
	out := make([]catalog.Question, 0, len(questions))
	for _, q := range questions {
		if !solved[q.Code] {
			out = append(out, q)
		}
	}
	return out
}

// Draw picks n distinct questions from pool.
func Draw(pool []catalog.Question, n int, rng *rand.Rand) ([]catalog.Question, error) {
	if len(pool) < n {
		return nil, fmt.Errorf("%d eligible, need %d: %w", len(pool), n, ErrInsufficientQuestionPool)
	}
	idx := rng.Perm(len(pool))[:n]
	out := make([]catalog.Question, n)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out, nil
}

// =============================================================================
// GRADING
// =============================================================================

// Payout returns the winnings for correct answers on bet.
func Payout(bet, correct int) int {
	switch {
	case correct <= 0:
		return 0
	case correct == 1:
		return bet
	default:
		return 2 * bet
	}
}

// Grade checks answers against the questions stored in the wager.
func Grade(questions []catalog.Question, answers []string) ([]ledger.QuestionResult, int, error) {
	if len(answers) != len(questions) {
		return nil, 0, ErrIncompleteAnswers
	}
	results := make([]ledger.QuestionResult, len(questions))
	correct := 0
	for i, q := range questions {
		if answers[i] == "" {
			return nil, 0, ErrIncompleteAnswers
		}
		if !q.HasChoice(answers[i]) {
			return nil, 0, ErrInvalidChoice
		}
		ai, _ := catalog.ChoiceIndex(answers[i])
		qi, _ := catalog.ChoiceIndex(q.Answer)
		right := ai == qi
		if right {
			correct++
		}
		results[i] = ledger.QuestionResult{
			Code:     q.Code,
			Question: q.Question,
			Choice:   catalog.ChoiceLetter(ai),
			Answer:   catalog.ChoiceLetter(qi),
			Correct:  right,
		}
	}
	return results, correct, nil
}

// Settle finishes the wager with the given id: the wager is patched with
// its results and a payout record is appended when anything was won. doc
// is not modified.
func Settle(doc ledger.Document, wagerID string, answers []string, at time.Time) (ledger.Document, Result, error) {
	w, i, ok := doc.Find(wagerID)
	if !ok || !w.IsQuizWagerRecord() {
		return doc, Result{}, ErrNoQuizInProgress
	}
	if w.Finished {
		return doc, Result{}, ErrQuizAlreadyFinished
	}

	results, correct, err := Grade(w.Questions, answers)
	if err != nil {
		return doc, Result{}, err
	}

	w.QuestionResults = results
	w.CorrectCount = correct
	w.Finished = true
	next := ledger.Replace(doc, i, w)

	var payout *ledger.Record
	if won := Payout(w.BetPoints, correct); won > 0 {
		p := ledger.NewQuizPayout(w.ID, won, fmt.Sprintf("Quiz: %d/%d correct", correct, len(w.Questions)), at)
		next = ledger.Append(next, p)
		payout = &p
	}
	return next, resultOf(w, payout), nil
}

// =============================================================================
// REVIEW
// =============================================================================

// Result is the replay of one finished quiz.
type Result struct {
	WagerID   string                  `json:"wagerId"`
	Day       calendar.DayKey         `json:"day"`
	Date      time.Time               `json:"date"`
	Bet       int                     `json:"bet"`
	Questions []catalog.Question      `json:"questions"`
	Results   []ledger.QuestionResult `json:"results"`
	Correct   int                     `json:"correct"`
	Payout    int                     `json:"payout"`
	Net       int                     `json:"net"`
}

func resultOf(w ledger.Record, payout *ledger.Record) Result {
	r := Result{
		WagerID:   w.ID,
		Date:      w.Date,
		Bet:       w.BetPoints,
		Questions: w.Questions,
		Results:   w.QuestionResults,
		Correct:   w.CorrectCount,
		Payout:    Payout(w.BetPoints, w.CorrectCount),
	}
	if payout != nil {
		r.Payout = payout.Points
	}
	r.Net = r.Payout - r.Bet
	return r
}

// Review replays the finished quiz wagered during day.
func Review(doc ledger.Document, day calendar.Day) (Result, error) {
	w, ok := WagerOn(doc.Records, day)
	if !ok || !w.Finished {
		return Result{}, fmt.Errorf("%s: %w", day.Key(), ErrNoQuizOnDay)
	}
	r := resultOf(w, payoutFor(doc.Records, w.ID))
	r.Day = day.Key()
	return r, nil
}

// History lists every finished quiz, newest first.
func History(doc ledger.Document, loc *time.Location) []Result {
	out := []Result{}
	for _, w := range doc.Records {
		if !w.IsQuizWagerRecord() || !w.Finished {
			continue
		}
		r := resultOf(w, payoutFor(doc.Records, w.ID))
		r.Day = calendar.KeyOf(w.Date, loc)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

func payoutFor(records []ledger.Record, wagerID string) *ledger.Record {
	for _, r := range records {
		if r.IsQuizPayoutRecord() && r.WagerID == wagerID {
			p := r
			return &p
		}
	}
	return nil
}
