package points

import (
	"fmt"
	"sync"

	"github.com/warp/points-engine/ledger"
)

// Action names one kind of user action. Each kind has its own guard slot.
type Action string

const (
	ActionReload     Action = "reload"
	ActionSignIn     Action = "signin"
	ActionTask       Action = "task"
	ActionReward     Action = "reward"
	ActionVoucher    Action = "voucher"
	ActionManual     Action = "manual"
	ActionQuizStart  Action = "quiz_start"
	ActionQuizSubmit Action = "quiz_submit"
	ActionAdmin      Action = "admin"
)

// Actions lists every guarded action kind.
func Actions() []Action {
	return []Action{
		ActionReload, ActionSignIn, ActionTask, ActionReward, ActionVoucher,
		ActionManual, ActionQuizStart, ActionQuizSubmit, ActionAdmin,
	}
}

type slotState int

const (
	idle slotState = iota
	inFlight
)

// guardTable holds one Idle/InFlight slot per action kind. A second
// invocation of a kind that is already in flight is refused, not queued.
type guardTable struct {
	mu    sync.Mutex
	slots map[Action]slotState
}

func newGuardTable() *guardTable {
	g := &guardTable{slots: make(map[Action]slotState)}
	for _, a := range Actions() {
		g.slots[a] = idle
	}
	return g
}

// acquire moves a's slot to InFlight and returns the func that frees it.
func (g *guardTable) acquire(a Action) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.slots[a] == inFlight {
		return nil, fmt.Errorf("%s: %w", a, ledger.ErrActionInFlight)
	}
	g.slots[a] = inFlight
	return func() {
		g.mu.Lock()
		g.slots[a] = idle
		g.mu.Unlock()
	}, nil
}

// busy reports the action kinds currently in flight.
func (g *guardTable) busy() []Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := []Action{}
	for _, a := range Actions() {
		if g.slots[a] == inFlight {
			out = append(out, a)
		}
	}
	return out
}
