package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKindRoundTrip(t *testing.T) {
	err := opErr(KindNoSuchKey, "GetObject", "bkt", "k", nil)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindNoSuchKey, kind)
	require.True(t, IsKind(err, KindNoSuchKey))
	require.False(t, IsKind(err, KindNoSuchBucket))
	require.Contains(t, err.Error(), "NoSuchKey")
	require.Contains(t, err.Error(), "bkt/k")
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk on fire")
	err := opErr(KindInternal, "PutObject", "bkt", "k", cause)
	require.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("handler: %w", err)
	require.True(t, IsKind(wrapped, KindInternal), "kind survives further wrapping")
}

func TestKindOfUnclassified(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
	require.False(t, IsKind(nil, KindInternal))
}
