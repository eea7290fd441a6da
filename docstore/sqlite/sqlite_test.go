package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/docstore/sqlite"
	"github.com/warp/points-engine/docstore/storetest"
	"github.com/warp/points-engine/ledger"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store { return newStore(t) })
}

func TestSQLite_KeepsRevisionHistory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	at := time.Date(2026, time.October, 16, 8, 0, 0, 0, time.UTC)

	first := ledger.Append(ledger.Empty(), ledger.NewManual(5, "start", at))
	t1, err := s.Write(ctx, first, "")
	require.NoError(t, err)

	second := ledger.Append(first, ledger.NewManual(-2, "oops", at))
	_, err = s.Write(ctx, second, t1)
	require.NoError(t, err)

	revs, err := s.Revisions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, int64(2), revs[0].Number)
	assert.Equal(t, 3, revs[0].Balance)
	assert.Equal(t, 5, revs[1].Balance)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "points.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	token, err := s.Write(ctx, ledger.Append(ledger.Empty(), ledger.NewManual(4, "x", time.Now())), "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	doc, got, err := reopened.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, token, got)
	assert.Equal(t, 4, ledger.Balance(doc.Records))
}

func TestSQLite_NamedDocumentsAreIndependent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "points.db")

	a, err := sqlite.NewNamed(path, "alice")
	require.NoError(t, err)
	defer a.Close()
	b, err := sqlite.NewNamed(path, "bob")
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Write(ctx, ledger.Empty(), "")
	require.NoError(t, err)

	doc, token, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Empty(t, token)
}
