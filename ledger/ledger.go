package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/points-engine/calendar"
)

// =============================================================================
// BALANCE
// =============================================================================

// Balance is the sum of all record points. Order does not matter.
func Balance(records []Record) int {
	total := 0
	for _, r := range records {
		total += r.Points
	}
	return total
}

// Summary is a point-in-time view of the ledger totals.
type Summary struct {
	Balance int `json:"balance"`
	Earned  int `json:"earned"`
	Spent   int `json:"spent"`
	Count   int `json:"count"`
}

// Summarize splits the balance into gross earnings and spending. Spent is
// reported as a positive number.
func Summarize(records []Record) Summary {
	s := Summary{Count: len(records)}
	for _, r := range records {
		s.Balance += r.Points
		if r.Points > 0 {
			s.Earned += r.Points
		} else {
			s.Spent -= r.Points
		}
	}
	return s
}

// =============================================================================
// DAILY COUNTING
// =============================================================================

// Predicate selects records.
type Predicate func(Record) bool

// IsTask matches completions of one task.
func IsTask(code string) Predicate {
	return func(r Record) bool { return r.Type == TypeTask && r.TaskCode == code }
}

// IsReward matches redemptions of one reward.
func IsReward(code string) Predicate {
	return func(r Record) bool { return r.Type == TypeReward && r.RewardCode == code }
}

// IsSignIn matches sign-in records.
func IsSignIn(r Record) bool { return r.Type == TypeSignIn }

// IsQuizWager matches quiz wagers (not payouts).
func IsQuizWager(r Record) bool { return r.IsQuizWagerRecord() }

// DailyCount counts records matching pred whose date falls inside day.
func DailyCount(records []Record, pred Predicate, day calendar.Day) int {
	n := 0
	for _, r := range records {
		if pred(r) && day.Contains(r.Date) {
			n++
		}
	}
	return n
}

// SignedInOn reports whether the user has signed in on day, either by the
// persisted marker or by a sign-in record dated inside the window.
func SignedInOn(doc Document, day calendar.Day) bool {
	if doc.LastSignInDate != "" && doc.LastSignInDate == day.Key() {
		return true
	}
	return DailyCount(doc.Records, IsSignIn, day) > 0
}

// =============================================================================
// VOUCHERS
// =============================================================================

// OpenVouchers returns the unused reward records, in ledger order.
func OpenVouchers(records []Record) []Record {
	out := []Record{}
	for _, r := range records {
		if r.IsVoucher() && !r.Used {
			out = append(out, r.clone())
		}
	}
	return out
}

// SortVouchers orders vouchers newest first, in place.
func SortVouchers(vouchers []Record) {
	sort.SliceStable(vouchers, func(i, j int) bool {
		return vouchers[i].Date.After(vouchers[j].Date)
	})
}

// UseVoucher marks one voucher used at the given instant. doc is not
// modified; the updated document and record are returned.
func UseVoucher(doc Document, id string, at time.Time) (Document, Record, error) {
	r, i, ok := doc.Find(id)
	if !ok || !r.IsVoucher() {
		return doc, Record{}, fmt.Errorf("voucher %q: %w", id, ErrVoucherNotFound)
	}
	if r.Used {
		return doc, Record{}, fmt.Errorf("voucher %q: %w", id, ErrVoucherAlreadyUsed)
	}

	next := doc.Clone()
	used := at
	next.Records[i].Used = true
	next.Records[i].UsedAt = &used
	return next, next.Records[i].clone(), nil
}

// =============================================================================
// APPEND
// =============================================================================

// Append returns a new document with records added at the end. doc is not
// modified.
func Append(doc Document, records ...Record) Document {
	next := doc.Clone()
	for _, r := range records {
		next.Records = append(next.Records, r.clone())
	}
	return next
}

// Replace returns a new document with the record at index i swapped for r.
func Replace(doc Document, i int, r Record) Document {
	next := doc.Clone()
	next.Records[i] = r.clone()
	return next
}
