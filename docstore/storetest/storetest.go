// Package storetest is a conformance suite every CAS-capable docstore.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

// Factory returns an empty store.
type Factory func(t *testing.T) docstore.Store

// Run exercises the token contract against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EmptyStoreReadsNil", func(t *testing.T) {
		s := newStore(t)

		doc, token, err := s.Read(context.Background())

		require.NoError(t, err)
		assert.Nil(t, doc)
		assert.Equal(t, docstore.Token(""), token)
	})

	t.Run("CreateThenRead", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		doc := sample()

		token, err := s.Write(ctx, doc, "")
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		got, readToken, err := s.Read(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, token, readToken)
		require.Len(t, got.Records, len(doc.Records))
		assert.Equal(t, doc.Records[0].ID, got.Records[0].ID)
		assert.Equal(t, doc.LastSignInDate, got.LastSignInDate)
		assert.Equal(t, ledger.Balance(doc.Records), ledger.Balance(got.Records))
	})

	t.Run("CreateTwiceConflicts", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.Write(ctx, sample(), "")
		require.NoError(t, err)

		_, err = s.Write(ctx, sample(), "")
		assert.ErrorIs(t, err, ledger.ErrConflict)
	})

	t.Run("FreshTokenSucceedsStaleTokenConflicts", func(t *testing.T) {
		// GIVEN: two readers holding the same token
		// WHEN: the first writes
		// THEN: the second's write with the old token is rejected

		ctx := context.Background()
		s := newStore(t)
		first, err := s.Write(ctx, sample(), "")
		require.NoError(t, err)

		doc, token, err := s.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, first, token)

		next := ledger.Append(*doc, ledger.NewManual(1, "first writer", time.Now()))
		second, err := s.Write(ctx, next, token)
		require.NoError(t, err)
		assert.NotEqual(t, token, second)

		stale := ledger.Append(*doc, ledger.NewManual(2, "second writer", time.Now()))
		_, err = s.Write(ctx, stale, token)
		require.ErrorIs(t, err, ledger.ErrConflict)

		got, _, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, ledger.Balance(next.Records), ledger.Balance(got.Records))
	})

	t.Run("RewriteSameContentChangesToken", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		doc := sample()

		t1, err := s.Write(ctx, doc, "")
		require.NoError(t, err)
		t2, err := s.Write(ctx, doc, t1)
		require.NoError(t, err)

		_, err = s.Write(ctx, doc, t1)
		assert.ErrorIs(t, err, ledger.ErrConflict, "a token from before an identical rewrite must be stale")
		assert.NotEqual(t, t1, t2)
	})
}

func sample() ledger.Document {
	at := time.Date(2026, time.October, 16, 8, 0, 0, 0, time.UTC)
	doc := ledger.Append(ledger.Empty(),
		ledger.NewSignIn(5, at),
		ledger.NewManual(-2, "late", at.Add(time.Hour)),
	)
	doc.LastSignInDate = "2026-10-16"
	return doc
}
