package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueConstraintError(t *testing.T) {
	// GIVEN: a document row that already exists
	ctx := context.Background()
	s, err := New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	insert := `INSERT INTO documents (name, revision, token, payload, updated_at) VALUES ('points', 1, 't', '{}', 'now')`
	_, err = s.db.ExecContext(ctx, insert)
	require.NoError(t, err)

	// WHEN: the same row is inserted again
	_, err = s.db.ExecContext(ctx, insert)

	// THEN: the driver's constraint code is recognised, also when wrapped
	require.Error(t, err)
	assert.True(t, isUniqueConstraintError(err))
	assert.True(t, isUniqueConstraintError(fmt.Errorf("create: %w", err)))

	// AND: other failures are not mistaken for a duplicate
	_, err = s.db.ExecContext(ctx, `INSERT INTO missing_table VALUES (1)`)
	require.Error(t, err)
	assert.False(t, isUniqueConstraintError(err))
	assert.False(t, isUniqueConstraintError(errors.New("UNIQUE constraint failed: documents.name")))
	assert.False(t, isUniqueConstraintError(nil))
}
