package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	img := filepath.Join(dir, "avatar.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0644))

	cfg := config.DefaultConfig()
	cfg.Media.Source = img
	cfg.Media.Kind = "image"
	cfg.Narration.Backend = "typewriter"
	cfg.Narration.CharsPerSecond = 1000
	cfg.Narration.Segments = []string{"Hola", "Bienvenidos"}
	cfg.Narration.WatchScript = false
	cfg.Log.Dir = ""
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func TestAppAutoplayNarratesScript(t *testing.T) {
	a := startApp(t, testConfig(t))

	require.Eventually(t, func() bool {
		return a.Runtime().Snapshot().Narration == "complete"
	}, 3*time.Second, 10*time.Millisecond)

	s := a.Runtime().Snapshot()
	assert.True(t, s.IsLoaded)
	assert.True(t, s.HasSpoken)
	assert.Equal(t, 2, s.SegmentCount)
	assert.Equal(t, 2, s.VisibleSegments)
	assert.Equal(t, "typewriter", s.NarrationBackend)
}

func TestAppWithoutAutoplayWaitsForPlay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Media.Autoplay = false
	a := startApp(t, cfg)

	require.Eventually(t, func() bool {
		return a.Runtime().Snapshot().IsLoaded
	}, 3*time.Second, 10*time.Millisecond)
	assert.False(t, a.Runtime().Snapshot().HasSpoken)

	a.Runtime().RequestPlay()
	require.Eventually(t, func() bool {
		return a.Runtime().Snapshot().HasSpoken
	}, 3*time.Second, 10*time.Millisecond)
}

func TestAppMissingMediaShowsFallback(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Dir(cfg.Media.Source)
	cfg.Media.Source = filepath.Join(dir, "missing.png")
	cfg.Media.FallbackImage = filepath.Join(dir, "avatar.png")
	a := startApp(t, cfg)

	require.Eventually(t, func() bool {
		return a.Runtime().Snapshot().HasError
	}, 3*time.Second, 10*time.Millisecond)

	s := a.Runtime().Snapshot()
	assert.True(t, s.ShowFallback)
	assert.True(t, s.ShowErrorAffordance)
	assert.Equal(t, cfg.Media.FallbackImage, s.FallbackImage)
}

func TestAppTogglesToStillImage(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Dir(cfg.Media.Source)
	clip := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("mp4"), 0644))
	cfg.Media.Source = clip
	cfg.Media.Kind = "video"
	cfg.Media.FallbackImage = filepath.Join(dir, "avatar.png")
	cfg.Media.DefaultDuration = time.Minute
	a := startApp(t, cfg)

	require.Eventually(t, func() bool {
		s := a.Runtime().Snapshot()
		return s.Source == clip && s.Kind == "video"
	}, 3*time.Second, 10*time.Millisecond)

	a.Runtime().RequestAvatarToggle()
	require.Eventually(t, func() bool {
		s := a.Runtime().Snapshot()
		return s.Kind == "image" && s.IsLoaded
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, cfg.Media.FallbackImage, a.Runtime().Snapshot().Source)

	a.Runtime().RequestAvatarToggle()
	require.Eventually(t, func() bool {
		return a.Runtime().Snapshot().Source == clip
	}, 3*time.Second, 10*time.Millisecond)
}

func TestAppLoadsScriptFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lang: en-US\nsegments:\n  - One\n  - Two\n  - Three\n"), 0644))
	cfg.Narration.ScriptPath = path
	cfg.Media.Autoplay = false

	a, err := New(cfg, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, "en-US", a.seq.Params().Lang)
	assert.Len(t, a.seq.Segments(), 3)
}

func TestAppReloadsEditedScript(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("segments:\n  - One\n"), 0644))
	cfg.Narration.ScriptPath = path
	cfg.Narration.WatchScript = true
	cfg.Media.Autoplay = false
	a := startApp(t, cfg)

	require.Eventually(t, func() bool {
		return a.Runtime().Snapshot().SegmentCount == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("voice: Monica\nsegments:\n  - One\n  - Two\n"), 0644))
	require.Eventually(t, func() bool {
		return a.Runtime().Snapshot().SegmentCount == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestAppRejectsBadScript(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("segments: []\n"), 0644))
	cfg.Narration.ScriptPath = path

	_, err := New(cfg, logging.Nop())
	require.Error(t, err)
}
