package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Put(ctx, "analyses/1/a.pdf", []byte("%PDF-1.7"), "application/pdf"))
	b, err := l.Get(ctx, "analyses/1/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(b))

	require.NoError(t, l.Delete(ctx, "analyses/1/a.pdf"))
	require.NoError(t, l.Delete(ctx, "analyses/1/a.pdf"), "deleting twice is fine")
	_, err = l.Get(ctx, "analyses/1/a.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.NoError(t, l.Ping(ctx))
}

func TestLocal_RejectsTraversal(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, l.Put(context.Background(), "../escape", []byte("x"), ""))
	assert.Error(t, l.Put(context.Background(), "", []byte("x"), ""))
}
