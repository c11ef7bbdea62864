package metadata

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()
	sq, err := OpenSQLiteRegistry(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err, "open sqlite registry")
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"sqlite": sq,
	}
}

func TestRegistryCreateIsUnique(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Create(ctx, "mybucket"))
			err := reg.Create(ctx, "mybucket")
			require.ErrorIs(t, err, ErrBucketExists)

			ok, err := reg.Exists(ctx, "mybucket")
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestRegistryDelete(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.ErrorIs(t, reg.Delete(ctx, "nope"), ErrBucketNotFound)

			require.NoError(t, reg.Create(ctx, "b1"))
			require.NoError(t, reg.Delete(ctx, "b1"))

			ok, err := reg.Exists(ctx, "b1")
			require.NoError(t, err)
			require.False(t, ok)

			// Name is free again after delete.
			require.NoError(t, reg.Create(ctx, "b1"))
		})
	}
}

func TestRegistryListSorted(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, n := range []string{"zebra", "alpha", "mango"} {
				require.NoError(t, reg.Create(ctx, n))
			}
			bs, err := reg.List(ctx)
			require.NoError(t, err)
			require.Len(t, bs, 3)
			require.Equal(t, "alpha", bs[0].Name)
			require.Equal(t, "mango", bs[1].Name)
			require.Equal(t, "zebra", bs[2].Name)
			require.False(t, bs[0].CreatedAt.IsZero())
		})
	}
}
