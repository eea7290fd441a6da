package ledger

import (
	"github.com/warp/points-engine/calendar"
	"github.com/warp/points-engine/catalog"
)

// =============================================================================
// TASK VIEWS
// =============================================================================

// TaskView is a catalog task annotated with today's usage.
type TaskView struct {
	catalog.Task
	CompletedCount int  `json:"completedCount"`
	Remaining      *int `json:"remaining"` // nil when unlimited
	IsCompleted    bool `json:"isCompleted"`
}

// DeriveTaskViews annotates every task with its usage during day.
func DeriveTaskViews(tasks []catalog.Task, records []Record, day calendar.Day) []TaskView {
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		count := DailyCount(records, IsTask(t.Code), day)
		v := TaskView{Task: t, CompletedCount: count}
		if t.MaxDailyTimes != nil {
			v.Remaining = remaining(*t.MaxDailyTimes, count)
			v.IsCompleted = count >= *t.MaxDailyTimes
		}
		views = append(views, v)
	}
	return views
}

// =============================================================================
// REWARD VIEWS
// =============================================================================

// RewardView is a catalog reward annotated with today's usage and whether
// the current balance covers it.
type RewardView struct {
	catalog.Reward
	RedeemedCount int  `json:"redeemedCount"`
	Remaining     *int `json:"remaining"`
	IsMaxed       bool `json:"isMaxed"`
	Affordable    bool `json:"affordable"`
}

// DeriveRewardViews annotates every reward with its usage during day.
func DeriveRewardViews(rewards []catalog.Reward, records []Record, day calendar.Day) []RewardView {
	balance := Balance(records)
	views := make([]RewardView, 0, len(rewards))
	for _, rw := range rewards {
		count := DailyCount(records, IsReward(rw.Code), day)
		v := RewardView{
			Reward:        rw,
			RedeemedCount: count,
			Affordable:    balance >= rw.Points,
		}
		if rw.MaxDailyTimes != nil {
			v.Remaining = remaining(*rw.MaxDailyTimes, count)
			v.IsMaxed = count >= *rw.MaxDailyTimes
		}
		views = append(views, v)
	}
	return views
}

// =============================================================================
// CAP CHECKS
// =============================================================================

// CheckTaskCap fails with a DailyCapError when t has no completions left on day.
func CheckTaskCap(t catalog.Task, records []Record, day calendar.Day) error {
	if t.MaxDailyTimes == nil {
		return nil
	}
	count := DailyCount(records, IsTask(t.Code), day)
	if count >= *t.MaxDailyTimes {
		return &DailyCapError{Kind: TypeTask, Code: t.Code, Max: *t.MaxDailyTimes, Count: count, Day: day.Key()}
	}
	return nil
}

// CheckRewardCap fails with a DailyCapError when rw has no redemptions left on day.
func CheckRewardCap(rw catalog.Reward, records []Record, day calendar.Day) error {
	if rw.MaxDailyTimes == nil {
		return nil
	}
	count := DailyCount(records, IsReward(rw.Code), day)
	if count >= *rw.MaxDailyTimes {
		return &DailyCapError{Kind: TypeReward, Code: rw.Code, Max: *rw.MaxDailyTimes, Count: count, Day: day.Key()}
	}
	return nil
}

// CheckAffordable fails with an InsufficientBalanceError when the balance
// is below cost.
func CheckAffordable(records []Record, cost int) error {
	if b := Balance(records); b < cost {
		return &InsufficientBalanceError{Balance: b, Required: cost}
	}
	return nil
}

func remaining(max, count int) *int {
	n := max - count
	if n < 0 {
		n = 0
	}
	return &n
}
