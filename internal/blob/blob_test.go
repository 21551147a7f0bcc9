package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the contract tests against every local backend.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemoryStore(),
	}
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Put(ctx, "share/session/info/ses_1.json", []byte(`{"title":"X"}`), ContentTypeJSON)
			require.NoError(t, err)

			data, err := store.Get(ctx, "share/session/info/ses_1.json")
			require.NoError(t, err)
			assert.JSONEq(t, `{"title":"X"}`, string(data))
		})
	}
}

func TestStore_GetNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "share/session/info/ses_missing.json")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			key := "share/session/info/ses_1.json"
			require.NoError(t, store.Put(ctx, key, []byte(`{"n":1}`), ContentTypeJSON))
			require.NoError(t, store.Put(ctx, key, []byte(`{"n":2}`), ContentTypeJSON))

			data, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.JSONEq(t, `{"n":2}`, string(data))
		})
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			key := "share/session/info/ses_1.json"
			require.NoError(t, store.Put(ctx, key, []byte(`{}`), ContentTypeJSON))

			require.NoError(t, store.Delete(ctx, key))

			_, err := store.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting again reports not found
			assert.ErrorIs(t, store.Delete(ctx, key), ErrNotFound)
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			keys := []string{
				"share/session/info/ses_1.json",
				"share/session/message/ses_1/msg_1.json",
				"share/session/message/ses_1/msg_2.json",
				"share/session/part/ses_1/msg_1/prt_1.json",
			}
			for _, key := range keys {
				require.NoError(t, store.Put(ctx, key, []byte(`{}`), ContentTypeJSON))
			}

			listed, err := store.List(ctx, "share/session/message/")
			require.NoError(t, err)
			assert.Equal(t, []string{
				"share/session/message/ses_1/msg_1.json",
				"share/session/message/ses_1/msg_2.json",
			}, listed)

			all, err := store.List(ctx, "share/")
			require.NoError(t, err)
			assert.Len(t, all, 4)

			none, err := store.List(ctx, "share/session/info/ses_2")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestFSStore_AtomicLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "share/session/info/ses_1.json", []byte(`{}`), ContentTypeJSON))

	// Object lives at its key path; no temp files remain.
	_, err = os.Stat(filepath.Join(dir, "share", "session", "info", "ses_1.json"))
	assert.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "share", "session", "info", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "/absolute", "a/../../b"} {
		assert.Error(t, store.Put(ctx, key, []byte(`{}`), ContentTypeJSON), "key %q", key)
	}
}
