package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/models"
)

func newTestUserPromptStore(t *testing.T) (*FileUserPromptStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user_prompts.json")
	store, err := NewFileUserPromptStore(path, common.NewSilentLogger())
	require.NoError(t, err)
	return store, path
}

func TestUserPromptStoreSetGetDelete(t *testing.T) {
	store, _ := newTestUserPromptStore(t)

	assert.Empty(t, store.Get(models.RoleWriter))

	require.NoError(t, store.Set(models.RoleWriter, "  自定义撰写提示词  "))
	assert.Equal(t, "自定义撰写提示词", store.Get(models.RoleWriter))

	require.NoError(t, store.Delete(models.RoleWriter))
	assert.Empty(t, store.Get(models.RoleWriter))

	// Deleting an absent role is a no-op.
	require.NoError(t, store.Delete(models.RoleWriter))
}

func TestUserPromptStoreRejectsUnknownRole(t *testing.T) {
	store, _ := newTestUserPromptStore(t)

	err := store.Set("editor", "x")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrInvalid))

	err = store.Delete("editor")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrInvalid))
}

func TestUserPromptStorePersistsAcrossReopen(t *testing.T) {
	store, path := newTestUserPromptStore(t)
	require.NoError(t, store.Set(models.RoleReviewer, "评审提示词"))

	reopened, err := NewFileUserPromptStore(path, common.NewSilentLogger())
	require.NoError(t, err)
	assert.Equal(t, "评审提示词", reopened.Get(models.RoleReviewer))
}

func TestUserPromptStoreSurvivesMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_prompts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewFileUserPromptStore(path, common.NewSilentLogger())
	require.NoError(t, err)
	assert.Empty(t, store.Get(models.RoleWriter))

	require.NoError(t, store.Set(models.RoleWriter, "重建"))
	assert.Equal(t, "重建", store.Get(models.RoleWriter))
}

func TestUserPromptStoreStats(t *testing.T) {
	store, _ := newTestUserPromptStore(t)
	require.NoError(t, store.Set(models.RoleWriter, "撰写"))
	require.NoError(t, store.Set(models.RoleModifier, "修订提示"))

	stats := store.Stats()
	assert.True(t, stats.HasWriterPrompt)
	assert.True(t, stats.HasModifierPrompt)
	assert.False(t, stats.HasReviewerPrompt)
	assert.Equal(t, len("撰写"), stats.WriterPromptLength)
	assert.Equal(t, len("修订提示"), stats.ModifierPromptLength)
	assert.Zero(t, stats.ReviewerPromptLength)
	assert.False(t, stats.LastUpdated.IsZero())
}

func TestUserPromptStoreLeavesNoTempFile(t *testing.T) {
	store, path := newTestUserPromptStore(t)
	require.NoError(t, store.Set(models.RoleWriter, "x"))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
