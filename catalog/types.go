/*
Package catalog holds the externally supplied lists the engine prices
actions against: tasks (earn points), rewards (spend points) and quiz
questions.

PURPOSE:
  The catalog is read-only input. Nothing in the engine writes it back; it
  is loaded from files or URLs at startup and refreshed on demand. A ledger
  record copies what it needs from its catalog entry (code, name, points) at
  the moment it is appended, so later catalog edits never rewrite history.

JSON SCHEMA (one list per source):
  tasks:     [{"code": "read", "name": "Read 30 min", "points": 5,
               "maxDailyTimes": 2, "description": "..."}]
  rewards:   [{"code": "tv", "name": "30 min TV", "points": 20,
               "maxDailyTimes": null}]
  questions: [{"code": "q1", "question": "2+2?",
               "choices": ["3", "4", "5"], "answer": "B"}]

  maxDailyTimes null or absent means unlimited.

SEE ALSO:
  - loader.go: concurrent loading from files and URLs
  - ledger/views.go: per-day task/reward views built from these entries
*/
package catalog

import (
	"fmt"
	"strings"
)

// =============================================================================
// ENTRIES
// =============================================================================

// Task is something the user does to earn points.
type Task struct {
	Code          string `json:"code" toml:"code"`
	Name          string `json:"name" toml:"name"`
	Points        int    `json:"points" toml:"points"`
	MaxDailyTimes *int   `json:"maxDailyTimes" toml:"maxDailyTimes"`
	Description   string `json:"description,omitempty" toml:"description"`
}

// Reward is something the user buys with points.
type Reward struct {
	Code          string `json:"code" toml:"code"`
	Name          string `json:"name" toml:"name"`
	Points        int    `json:"points" toml:"points"`
	MaxDailyTimes *int   `json:"maxDailyTimes" toml:"maxDailyTimes"`
}

// Question is a multiple-choice quiz question. Answer is the letter of the
// correct entry in Choices ("A" for Choices[0]).
type Question struct {
	Code     string   `json:"code" toml:"code"`
	Question string   `json:"question" toml:"question"`
	Choices  []string `json:"choices" toml:"choices"`
	Answer   string   `json:"answer" toml:"answer"`
}

// Catalog bundles the three lists.
type Catalog struct {
	Tasks     []Task
	Rewards   []Reward
	Questions []Question
}

// Task looks up a task by code.
func (c Catalog) Task(code string) (Task, bool) {
	for _, t := range c.Tasks {
		if t.Code == code {
			return t, true
		}
	}
	return Task{}, false
}

// Reward looks up a reward by code.
func (c Catalog) Reward(code string) (Reward, bool) {
	for _, r := range c.Rewards {
		if r.Code == code {
			return r, true
		}
	}
	return Reward{}, false
}

// =============================================================================
// CHOICE LETTERS
// =============================================================================

// ChoiceLetter returns the letter for a zero-based choice index.
func ChoiceLetter(i int) string {
	return string(rune('A' + i))
}

// ChoiceIndex parses a choice letter, case-insensitively.
func ChoiceIndex(letter string) (int, bool) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'Z' {
		return 0, false
	}
	return int(letter[0] - 'A'), true
}

// HasChoice reports whether letter names one of q's choices.
func (q Question) HasChoice(letter string) bool {
	i, ok := ChoiceIndex(letter)
	return ok && i < len(q.Choices)
}

// =============================================================================
// VALIDATION
// =============================================================================

func (t Task) Validate() error {
	if t.Code == "" {
		return fmt.Errorf("task %q: code is required", t.Name)
	}
	if t.MaxDailyTimes != nil && *t.MaxDailyTimes < 0 {
		return fmt.Errorf("task %q: maxDailyTimes must not be negative", t.Code)
	}
	return nil
}

func (r Reward) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("reward %q: code is required", r.Name)
	}
	if r.Points < 0 {
		return fmt.Errorf("reward %q: points must not be negative", r.Code)
	}
	if r.MaxDailyTimes != nil && *r.MaxDailyTimes < 0 {
		return fmt.Errorf("reward %q: maxDailyTimes must not be negative", r.Code)
	}
	return nil
}

func (q Question) Validate() error {
	if q.Code == "" {
		return fmt.Errorf("question %q: code is required", q.Question)
	}
	if len(q.Choices) < 2 {
		return fmt.Errorf("question %q: needs at least two choices", q.Code)
	}
	if !q.HasChoice(q.Answer) {
		return fmt.Errorf("question %q: answer %q is not one of its choices", q.Code, q.Answer)
	}
	return nil
}
