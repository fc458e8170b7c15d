package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidwise/backend/internal/settings"
)

type fakeSettingsRepo struct {
	settings *settings.Settings
	err      error
}

func (f *fakeSettingsRepo) Get(ctx context.Context) (*settings.Settings, error) {
	return f.settings, f.err
}

func (f *fakeSettingsRepo) Update(ctx context.Context, s *settings.Settings) error {
	return nil
}

func TestDynamicEmbedder_NoKeyConfigured(t *testing.T) {
	svc := settings.NewService(&fakeSettingsRepo{settings: &settings.Settings{}})
	embedder := NewDynamicEmbedder(svc)

	_, err := embedder.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini api key not configured")
}

func TestDynamicEmbedder_SettingsFailure(t *testing.T) {
	svc := settings.NewService(&fakeSettingsRepo{err: errors.New("db down")})
	embedder := NewDynamicEmbedder(svc)

	_, err := embedder.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load settings")
}

func TestDynamicEmbedder_ClientReuseAndSwitch(t *testing.T) {
	svc := settings.NewService(&fakeSettingsRepo{settings: &settings.Settings{GeminiAPIKey: "key1"}})
	embedder := NewDynamicEmbedder(svc)
	ctx := context.Background()

	first, err := embedder.clientFor(ctx, "key1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "key1", embedder.currentKey)

	same, err := embedder.clientFor(ctx, "key1")
	require.NoError(t, err)
	assert.Same(t, first, same)

	rotated, err := embedder.clientFor(ctx, "key2")
	require.NoError(t, err)
	assert.NotSame(t, first, rotated)
	assert.Equal(t, "key2", embedder.currentKey)
}
