package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecast/stagecast/core"
)

func newConversation(names ...string) *core.Conversation {
	participants := make([]core.Participant, 0, len(names))
	for _, name := range names {
		participants = append(participants, core.Participant{
			ID:   "agent_" + name,
			Name: name,
			Role: "Speaker",
		})
	}
	return core.NewConversation(core.Config{
		Title:        "persisted",
		Environment:  "A library",
		Scene:        "Quiet discussion.",
		Participants: participants,
		Policy:       core.PolicyRoundRobin,
	})
}

func stores(t *testing.T) map[string]core.Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]core.Store{
		"file":   fs,
		"memory": NewMemoryStore(),
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			conv := newConversation("Ada", "Grace")
			conv.Append(core.NewAgentMessage("Ada", "hello"))
			conv.Append(core.NewUserMessage("carry on"))
			conv.RecordInvocation("Ada")
			require.NoError(t, s.Save(conv))

			got, err := s.Load(conv.ID)
			require.NoError(t, err)
			assert.Equal(t, conv.ID, got.ID)
			assert.Equal(t, conv.ThreadID, got.ThreadID)
			assert.Equal(t, 2, got.Len())
			assert.Equal(t, map[string]int{"Ada": 1}, got.InvocationCounts())
			assert.Equal(t, core.StatusActive, got.CurrentStatus())
		})
	}
}

func TestStoreLoadUnknown(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load("conv_missing")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			conv := newConversation("Ada")
			require.NoError(t, s.Save(conv))
			require.NoError(t, s.Delete(conv.ID))

			_, err := s.Load(conv.ID)
			assert.ErrorIs(t, err, core.ErrNotFound)

			// Deleting again is a no-op.
			assert.NoError(t, s.Delete(conv.ID))
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a := newConversation("Ada")
			b := newConversation("Grace")
			require.NoError(t, s.Save(a))
			require.NoError(t, s.Save(b))

			got, err := s.List()
			require.NoError(t, err)
			ids := make(map[string]bool, len(got))
			for _, conv := range got {
				ids[conv.ID] = true
			}
			assert.True(t, ids[a.ID])
			assert.True(t, ids[b.ID])
		})
	}
}

func TestStoreSaveIsSnapshot(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			conv := newConversation("Ada")
			require.NoError(t, s.Save(conv))
			conv.Append(core.NewAgentMessage("Ada", "after the save"))

			got, err := s.Load(conv.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, got.Len())
		})
	}
}

func TestFileStoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	conv := newConversation("Ada")
	require.NoError(t, fs.Save(conv))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conv_broken.json"), []byte("{not json"), 0o644))

	got, err := fs.List()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, conv.ID, got[0].ID)
}

func TestFileStoreOverwriteKeepsLatest(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	conv := newConversation("Ada")
	require.NoError(t, fs.Save(conv))
	conv.Append(core.NewAgentMessage("Ada", "checkpoint two"))
	require.NoError(t, fs.Save(conv))

	got, err := fs.Load(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}
