package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/quiz"
)

// setupEnv points every command at a file backend and a small catalog in a
// temp dir, so consecutive invocations share one ledger.
func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()

	tasks := filepath.Join(dir, "tasks.json")
	require.NoError(t, os.WriteFile(tasks, []byte(`[
		{"code": "read", "name": "Read", "points": 5, "maxDailyTimes": 1}
	]`), 0o644))
	rewards := filepath.Join(dir, "rewards.json")
	require.NoError(t, os.WriteFile(rewards, []byte(`[
		{"code": "tv", "name": "TV", "points": 20, "maxDailyTimes": null}
	]`), 0o644))

	t.Setenv("POINTS_BACKEND", "file")
	t.Setenv("POINTS_FILE_PATH", filepath.Join(dir, "points.json"))
	t.Setenv("POINTS_CATALOG_TASKS", tasks)
	t.Setenv("POINTS_CATALOG_REWARDS", rewards)
	t.Setenv("POINTS_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands_EarnSpendAndStatus(t *testing.T) {
	setupEnv(t)

	// GIVEN: a seeded balance
	_, err := run(t, "manual", "--points", "30", "--reason", "seed")
	require.NoError(t, err)

	// WHEN: a task is completed and a reward redeemed
	out, err := run(t, "task", "read")
	require.NoError(t, err)
	assert.Contains(t, out, "Balance: 35")

	_, err = run(t, "redeem", "tv")
	require.NoError(t, err)

	// THEN: status reports the derived balance and today's usage
	out, err = run(t, "--json", "status")
	require.NoError(t, err)

	var state struct {
		Summary  ledger.Summary  `json:"summary"`
		Vouchers []ledger.Record `json:"vouchers"`
		Tasks    []struct {
			Code        string `json:"code"`
			IsCompleted bool   `json:"isCompleted"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, 15, state.Summary.Balance)
	require.Len(t, state.Tasks, 1)
	assert.True(t, state.Tasks[0].IsCompleted)
	require.Len(t, state.Vouchers, 1)
	assert.False(t, state.Vouchers[0].Used)

	// AND: the cap holds across invocations
	_, err = run(t, "task", "read")
	assert.True(t, errors.Is(err, ledger.ErrDailyCapReached))

	// AND: the voucher can be used once
	_, err = run(t, "voucher", "use", state.Vouchers[0].ID)
	require.NoError(t, err)
	_, err = run(t, "voucher", "use", state.Vouchers[0].ID)
	assert.True(t, errors.Is(err, ledger.ErrVoucherAlreadyUsed))
}

func TestCommands_ManualAcceptsNegativePoints(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "manual", "--points", "-5", "--reason", "fine")

	require.NoError(t, err)
	assert.Contains(t, out, "Manual -5: fine")
	assert.Contains(t, out, "Balance: -5")
}

func TestCommands_ClearNeedsConfirmation(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "manual", "--points", "10", "--reason", "seed")
	require.NoError(t, err)

	_, err = run(t, "admin", "clear")
	require.Error(t, err)

	_, err = run(t, "admin", "clear", "--yes")
	require.NoError(t, err)

	out, err := run(t, "--json", "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"balance": 0`)
}

func TestCommands_QuizStartRejectsNonNumericBet(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "quiz", "start", "lots")

	assert.True(t, errors.Is(err, quiz.ErrInvalidBet))
}

func TestCommands_UnknownBackendFails(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "--backend", "floppy", "status")

	assert.Error(t, err)
}
