package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/calendar"
	"github.com/warp/points-engine/ledger"
)

func TestDecode_EmptyPayloadIsEmptyDocument(t *testing.T) {
	for _, in := range []string{"", "  ", "null"} {
		doc, err := ledger.Decode([]byte(in))
		require.NoError(t, err)
		assert.NotNil(t, doc.Records)
		assert.Empty(t, doc.Records)
	}
}

func TestDecode_FillsDefaults(t *testing.T) {
	// GIVEN: a document written by an older client: no ids, a used voucher
	// without usedAt, an unknown record type and a legacy sign-in marker
	raw := `{
		"records": [
			{"type": "sign_in", "points": 5, "date": "2026-10-15T08:00:00Z"},
			{"type": "reward", "points": -20, "date": "2026-10-15T09:00:00Z",
			 "rewardCode": "tv", "rewardName": "TV", "used": true},
			{"type": "reward", "points": -20, "date": "2026-10-15T10:00:00Z",
			 "rewardCode": "tv", "usedAt": "2026-10-15T11:00:00Z"},
			{"type": "bonus", "points": 7, "date": "2026-10-15T12:00:00Z"}
		],
		"lastSignInDate": "Thu Oct 15 2026"
	}`

	doc, err := ledger.Decode([]byte(raw))
	require.NoError(t, err)

	require.Len(t, doc.Records, 4)
	for _, r := range doc.Records {
		assert.NotEmpty(t, r.ID)
	}

	used := doc.Records[1]
	require.NotNil(t, used.UsedAt)
	assert.True(t, used.UsedAt.Equal(used.Date))

	assert.Nil(t, doc.Records[2].UsedAt, "unused voucher must not carry usedAt")

	assert.Equal(t, ledger.RecordType("bonus"), doc.Records[3].Type)
	assert.False(t, doc.Records[3].Type.Known())
	assert.Equal(t, 5-20-20+7, ledger.Balance(doc.Records))

	assert.Equal(t, calendar.DayKey(""), doc.LastSignInDate)
}

func TestDecode_MissingIDsAreStableAcrossReads(t *testing.T) {
	// GIVEN: a stored document without record ids
	raw := []byte(`{"records": [
		{"type": "task", "points": 5, "date": "2026-10-15T08:00:00Z", "taskCode": "read"},
		{"type": "reward", "points": -20, "date": "2026-10-15T09:00:00Z", "rewardCode": "tv", "rewardName": "TV"},
		{"type": "reward", "points": -20, "date": "2026-10-15T09:00:00Z", "rewardCode": "tv", "rewardName": "TV"}
	]}`)

	// WHEN: it is decoded twice
	first, err := ledger.Decode(raw)
	require.NoError(t, err)
	second, err := ledger.Decode(raw)
	require.NoError(t, err)

	// THEN: every record gets the same id both times, and identical
	// records at different positions stay distinct
	require.Len(t, second.Records, 3)
	for i := range first.Records {
		assert.Equal(t, first.Records[i].ID, second.Records[i].ID)
	}
	assert.NotEqual(t, first.Records[1].ID, first.Records[2].ID)

	// AND: a voucher found by that id can be used on a fresh decode
	_, used, err := ledger.UseVoucher(second, first.Records[1].ID, first.Records[1].Date)
	require.NoError(t, err)
	assert.True(t, used.Used)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := ledger.Decode([]byte(`{"records": 12}`))

	assert.ErrorIs(t, err, ledger.ErrInvalidDocument)
}

func TestEncodeDecode_PreservesRecords(t *testing.T) {
	doc := ledger.Append(ledger.Empty(),
		ledger.NewRedemption(tvReward(), at(16, 8, 0)),
		ledger.NewManual(3, "chores", at(16, 9, 0)),
	)
	doc.LastSignInDate = "2026-10-16"

	data, err := ledger.Encode(doc)
	require.NoError(t, err)
	back, err := ledger.Decode(data)
	require.NoError(t, err)

	require.Len(t, back.Records, 2)
	assert.Equal(t, doc.Records[0].ID, back.Records[0].ID)
	assert.Equal(t, "chores", back.Records[1].Reason)
	assert.Equal(t, doc.LastSignInDate, back.LastSignInDate)
}
