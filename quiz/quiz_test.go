package quiz_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/calendar"
	"github.com/warp/points-engine/catalog"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/quiz"
)

func question(code, answer string) catalog.Question {
	return catalog.Question{
		Code:     code,
		Question: "What is " + code + "?",
		Choices:  []string{"one", "two", "three"},
		Answer:   answer,
	}
}

func TestPayoutTable(t *testing.T) {
	tests := []struct {
		correct, payout, net int
	}{
		{0, 0, -10},
		{1, 10, 0},
		{2, 20, 10},
	}
	for _, tt := range tests {
		got := quiz.Payout(10, tt.correct)
		assert.Equal(t, tt.payout, got, "correct=%d", tt.correct)
		assert.Equal(t, tt.net, got-10, "correct=%d", tt.correct)
	}
}

func TestGrade(t *testing.T) {
	qs := []catalog.Question{question("q1", "B"), question("q2", "C")}

	results, correct, err := quiz.Grade(qs, []string{"b", "A"})
	require.NoError(t, err)
	assert.Equal(t, 1, correct)
	assert.True(t, results[0].Correct)
	assert.Equal(t, "B", results[0].Choice)
	assert.Equal(t, "What is q1?", results[0].Question)
	assert.Equal(t, "What is q2?", results[1].Question)
	assert.False(t, results[1].Correct)
	assert.Equal(t, "C", results[1].Answer)

	_, _, err = quiz.Grade(qs, []string{"B", ""})
	assert.ErrorIs(t, err, quiz.ErrIncompleteAnswers)

	_, _, err = quiz.Grade(qs, []string{"B", "Z"})
	assert.ErrorIs(t, err, quiz.ErrInvalidChoice)
}

func TestEligible_ExcludesQuestionsEverSolved(t *testing.T) {
	// GIVEN: q1 answered correctly last week, q2 answered wrongly
	// THEN: q1 never comes back; q2 and q3 stay in the pool

	old := ledger.NewQuizWager(5, []catalog.Question{question("q1", "A"), question("q2", "A")},
		time.Date(2026, time.October, 9, 10, 0, 0, 0, time.UTC))
	old.Finished = true
	old.QuestionResults = []ledger.QuestionResult{
		{Code: "q1", Choice: "A", Answer: "A", Correct: true},
		{Code: "q2", Choice: "B", Answer: "A", Correct: false},
	}
	catalogQs := []catalog.Question{question("q1", "A"), question("q2", "A"), question("q3", "A")}

	pool := quiz.Eligible(catalogQs, []ledger.Record{old})

	codes := []string{}
	for _, q := range pool {
		codes = append(codes, q.Code)
	}
	assert.Equal(t, []string{"q2", "q3"}, codes)
}

func TestDraw_DistinctAndSeeded(t *testing.T) {
	pool := []catalog.Question{question("a", "A"), question("b", "A"), question("c", "A"), question("d", "A")}

	first, err := quiz.Draw(pool, 2, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	again, err := quiz.Draw(pool, 2, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.NotEqual(t, first[0].Code, first[1].Code)
	assert.Equal(t, first, again)

	_, err = quiz.Draw(pool[:1], 2, rand.New(rand.NewPCG(1, 2)))
	assert.ErrorIs(t, err, quiz.ErrInsufficientQuestionPool)
}

func TestSettle_PatchesWagerAndAppendsPayout(t *testing.T) {
	at := time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)
	wager := ledger.NewQuizWager(10, []catalog.Question{question("q1", "A"), question("q2", "B")}, at)
	doc := ledger.Append(ledger.Empty(), ledger.NewManual(50, "seed", at), wager)

	next, res, err := quiz.Settle(doc, wager.ID, []string{"A", "B"}, at.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Correct)
	assert.Equal(t, 20, res.Payout)
	assert.Equal(t, 10, res.Net)
	require.Len(t, next.Records, 3)
	assert.True(t, next.Records[1].Finished)
	assert.Equal(t, -10, next.Records[1].Points, "the wager keeps its debit")
	assert.Equal(t, wager.ID, next.Records[2].WagerID)
	assert.Equal(t, 60, ledger.Balance(next.Records))

	// input untouched
	assert.False(t, doc.Records[1].Finished)

	_, _, err = quiz.Settle(next, wager.ID, []string{"A", "B"}, at)
	assert.ErrorIs(t, err, quiz.ErrQuizAlreadyFinished)
}

func TestSettle_NoPayoutRecordWhenNothingWon(t *testing.T) {
	at := time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)
	wager := ledger.NewQuizWager(10, []catalog.Question{question("q1", "A"), question("q2", "B")}, at)
	doc := ledger.Append(ledger.Empty(), wager)

	next, res, err := quiz.Settle(doc, wager.ID, []string{"C", "C"}, at)
	require.NoError(t, err)

	assert.Len(t, next.Records, 1)
	assert.Equal(t, -10, res.Net)
}

func TestStatusReviewAndHistory(t *testing.T) {
	loc := time.UTC
	d1 := time.Date(2026, time.October, 14, 10, 0, 0, 0, loc)
	d2 := time.Date(2026, time.October, 15, 10, 0, 0, 0, loc)
	qs := []catalog.Question{question("q1", "A"), question("q2", "B")}

	w1 := ledger.NewQuizWager(5, qs, d1)
	doc := ledger.Append(ledger.Empty(), ledger.NewManual(100, "seed", d1), w1)
	doc, _, err := quiz.Settle(doc, w1.ID, []string{"A", "A"}, d1)
	require.NoError(t, err)

	w2 := ledger.NewQuizWager(8, qs, d2)
	doc = ledger.Append(doc, w2)

	day1 := calendar.DayOf(d1, loc)
	day2 := calendar.DayOf(d2, loc)
	assert.Equal(t, quiz.Finished, quiz.StatusOn(doc.Records, day1))
	assert.Equal(t, quiz.InProgress, quiz.StatusOn(doc.Records, day2))
	assert.Equal(t, quiz.NoAttempt, quiz.StatusOn(doc.Records, day2.Next()))

	open, ok := quiz.OpenWager(doc.Records, day2)
	require.True(t, ok)
	assert.Equal(t, w2.ID, open.ID)
	_, ok = quiz.OpenWager(doc.Records, day2.Next())
	assert.False(t, ok, "an unfinished wager does not carry into the next day")
	_, ok = quiz.OpenWager(doc.Records, day1)
	assert.False(t, ok, "a finished wager is not open")

	r, err := quiz.Review(doc, day1)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Correct)
	assert.Equal(t, 5, r.Payout)
	assert.Equal(t, calendar.DayKey("2026-10-14"), r.Day)

	_, err = quiz.Review(doc, day2)
	assert.ErrorIs(t, err, quiz.ErrNoQuizOnDay)

	doc, _, err = quiz.Settle(doc, w2.ID, []string{"A", "B"}, d2)
	require.NoError(t, err)
	hist := quiz.History(doc, loc)
	require.Len(t, hist, 2)
	assert.Equal(t, w2.ID, hist[0].WagerID)
	assert.Equal(t, 16, hist[0].Payout)
}
