package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/catalog"
)

// =============================================================================
// RECORD CONSTRUCTORS
// =============================================================================

// NewID returns a fresh record id.
func NewID() string { return uuid.NewString() }

// legacyNamespace scopes ids derived for records stored without one.
var legacyNamespace = uuid.MustParse("6f1c0d52-4b7e-4c1a-9a43-2f0e8d3b7a11")

// LegacyID derives a stable id for an id-less record from its position and
// content, so the same stored document yields the same ids on every read.
func LegacyID(index int, r Record) string {
	key := fmt.Sprintf("%d|%s|%s|%d", index, r.Type, r.Date.UTC().Format(time.RFC3339Nano), r.Points)
	return uuid.NewSHA1(legacyNamespace, []byte(key)).String()
}

func NewSignIn(points int, at time.Time) Record {
	return Record{ID: NewID(), Type: TypeSignIn, Points: points, Date: at}
}

// NewTaskCompletion copies code, name and points from the catalog task.
func NewTaskCompletion(t catalog.Task, at time.Time) Record {
	return Record{
		ID:       NewID(),
		Type:     TypeTask,
		Points:   t.Points,
		Date:     at,
		TaskCode: t.Code,
		TaskName: t.Name,
	}
}

// NewRedemption creates an unused voucher costing the reward's points.
func NewRedemption(r catalog.Reward, at time.Time) Record {
	return Record{
		ID:         NewID(),
		Type:       TypeReward,
		Points:     -r.Points,
		Date:       at,
		RewardCode: r.Code,
		RewardName: r.Name,
	}
}

func NewManual(points int, reason string, at time.Time) Record {
	return Record{ID: NewID(), Type: TypeManual, Points: points, Date: at, Reason: reason}
}

// NewQuizWager debits bet and stores the drawn questions.
func NewQuizWager(bet int, questions []catalog.Question, at time.Time) Record {
	r := Record{
		ID:        NewID(),
		Type:      TypeQuiz,
		Points:    -bet,
		Date:      at,
		BetPoints: bet,
		Questions: questions,
	}
	return r.clone()
}

// NewQuizPayout credits winnings for a finished wager.
func NewQuizPayout(wagerID string, points int, reason string, at time.Time) Record {
	return Record{ID: NewID(), Type: TypeQuiz, Points: points, Date: at, Reason: reason, WagerID: wagerID}
}

// =============================================================================
// MANUAL INPUT
// =============================================================================

// ParsePoints validates a user-typed point delta. It must be a non-zero
// whole number that fits in an int32.
func ParsePoints(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidPoints
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidPoints)
	}
	if !d.IsInteger() || d.IsZero() {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidPoints)
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt32)) || d.LessThan(decimal.NewFromInt(math.MinInt32)) {
		return 0, fmt.Errorf("%q out of range: %w", s, ErrInvalidPoints)
	}
	return int(d.IntPart()), nil
}

// ValidateReason trims a manual adjustment reason and rejects blanks.
func ValidateReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", ErrReasonRequired
	}
	return reason, nil
}
