/*
Package ledger holds the point ledger: an append-only list of records whose
sum is the user's balance.

PURPOSE:
  The ledger is the only source of truth. Balance, per-day usage counters,
  open vouchers and quiz status are all derived from it on demand and are
  never stored. Every function here is pure: it takes records (and, for
  "today" questions, a calendar.Day) and returns values without side
  effects.

KEY CONCEPTS IN THIS FILE (types.go):
  - Record:     one event (sign-in, task, reward, manual, quiz)
  - Document:   the persisted unit: records plus the lastSignInDate marker
  - RecordType: the discriminator persisted as "type"

INVARIANTS:
  1. Balance = sum of record points. There is no stored balance.
  2. Records are never edited, with two exceptions: a reward record's
     used/usedAt flip once (false -> true), and a quiz wager is patched with
     its results when submitted.
  3. Append order is chronological order.

SEE ALSO:
  - ledger.go: derivations and copy-on-write mutations
  - views.go:  per-day task and reward views
  - codec.go:  JSON encoding and the default-filling decode pass
*/
package ledger

import (
	"time"

	"github.com/warp/points-engine/calendar"
	"github.com/warp/points-engine/catalog"
)

// =============================================================================
// RECORD TYPES
// =============================================================================

type RecordType string

const (
	TypeSignIn RecordType = "sign_in"
	TypeTask   RecordType = "task"
	TypeReward RecordType = "reward"
	TypeManual RecordType = "manual"
	TypeQuiz   RecordType = "quiz"
)

// Known reports whether t is one of the types this engine writes. Records
// with other types are kept and still count toward the balance.
func (t RecordType) Known() bool {
	switch t {
	case TypeSignIn, TypeTask, TypeReward, TypeManual, TypeQuiz:
		return true
	}
	return false
}

// =============================================================================
// RECORD
// =============================================================================

// Record is one ledger event. Fields outside the common block are only set
// for the record types that use them.
type Record struct {
	ID     string     `json:"id"`
	Type   RecordType `json:"type"`
	Points int        `json:"points"`
	Date   time.Time  `json:"date"`

	// task
	TaskCode string `json:"taskCode,omitempty"`
	TaskName string `json:"taskName,omitempty"`

	// reward (voucher)
	RewardCode string     `json:"rewardCode,omitempty"`
	RewardName string     `json:"rewardName,omitempty"`
	Used       bool       `json:"used,omitempty"`
	UsedAt     *time.Time `json:"usedAt,omitempty"`

	// manual adjustment and quiz payout
	Reason string `json:"reason,omitempty"`

	// quiz wager
	BetPoints       int                `json:"betPoints,omitempty"`
	Questions       []catalog.Question `json:"questions,omitempty"`
	QuestionResults []QuestionResult   `json:"questionResults,omitempty"`
	CorrectCount    int                `json:"correctCount,omitempty"`
	Finished        bool               `json:"finished,omitempty"`

	// quiz payout: the wager it settles
	WagerID string `json:"wagerId,omitempty"`
}

// QuestionResult is the graded answer to one wager question.
type QuestionResult struct {
	Code     string `json:"code"`
	Question string `json:"question"`
	Choice   string `json:"choice"`
	Answer   string `json:"answer"`
	Correct  bool   `json:"correct"`
}

// IsQuizWagerRecord distinguishes a wager from a payout; both are TypeQuiz.
func (r Record) IsQuizWagerRecord() bool {
	return r.Type == TypeQuiz && r.BetPoints > 0
}

// IsQuizPayoutRecord reports a quiz payout record.
func (r Record) IsQuizPayoutRecord() bool {
	return r.Type == TypeQuiz && r.BetPoints == 0 && r.Points > 0
}

// IsVoucher reports whether r is a redeemed reward.
func (r Record) IsVoucher() bool { return r.Type == TypeReward }

// clone copies r deeply enough that patching the copy never touches r.
func (r Record) clone() Record {
	out := r
	if r.UsedAt != nil {
		t := *r.UsedAt
		out.UsedAt = &t
	}
	if r.Questions != nil {
		out.Questions = make([]catalog.Question, len(r.Questions))
		for i, q := range r.Questions {
			q.Choices = append([]string(nil), q.Choices...)
			out.Questions[i] = q
		}
	}
	if r.QuestionResults != nil {
		out.QuestionResults = append([]QuestionResult(nil), r.QuestionResults...)
	}
	return out
}

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is the whole persisted state.
type Document struct {
	Records        []Record        `json:"records"`
	LastSignInDate calendar.DayKey `json:"lastSignInDate"`
}

// Empty returns a document with no records.
func Empty() Document {
	return Document{Records: []Record{}}
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := Document{
		Records:        make([]Record, len(d.Records)),
		LastSignInDate: d.LastSignInDate,
	}
	for i, r := range d.Records {
		out.Records[i] = r.clone()
	}
	return out
}

// Find returns the record with the given id.
func (d Document) Find(id string) (Record, int, bool) {
	for i, r := range d.Records {
		if r.ID == id {
			return r, i, true
		}
	}
	return Record{}, -1, false
}
