package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/talkingavatar/internal/media"
)

type recordingListener struct {
	loaded chan struct{}
	failed chan error
	ended  chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		loaded: make(chan struct{}, 4),
		failed: make(chan error, 4),
		ended:  make(chan struct{}, 4),
	}
}

func (l *recordingListener) Loaded()          { l.loaded <- struct{}{} }
func (l *recordingListener) Failed(err error) { l.failed <- err }
func (l *recordingListener) Ended()           { l.ended <- struct{}{} }

func readCommand(t *testing.T, conn *websocket.Conn) MediaCommand {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd MediaCommand
	require.NoError(t, conn.ReadJSON(&cmd))
	return cmd
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestRemoteMediaDeferredLoad(t *testing.T) {
	env := newTestEnv(t)
	l := newRecordingListener()

	res, err := env.media.Open(media.Source{URI: "clip.mp4", Kind: media.KindVideo}, l)
	require.NoError(t, err)
	assert.False(t, env.media.Connected())

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(PathMedia), nil)
	require.NoError(t, err)
	defer conn.Close()

	load := readCommand(t, conn)
	assert.Equal(t, OpLoad, load.Op)
	assert.Equal(t, "clip.mp4", load.URI)
	assert.Equal(t, "video", load.Kind)
	assert.True(t, load.Muted)
	assert.True(t, env.media.Connected())

	require.NoError(t, conn.WriteJSON(MediaEvent{Event: EvLoaded, ID: load.ID}))
	waitFor(t, l.loaded)

	res.SetMuted(false)
	mute := readCommand(t, conn)
	assert.Equal(t, OpMute, mute.Op)
	assert.False(t, mute.Muted)
}

func TestRemoteMediaPlayResults(t *testing.T) {
	env := newTestEnv(t)
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(PathMedia), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, env.media.Connected, time.Second, 5*time.Millisecond)

	l := newRecordingListener()
	res, err := env.media.Open(media.Source{URI: "clip.mp4", Kind: media.KindVideo}, l)
	require.NoError(t, err)
	load := readCommand(t, conn)

	results := make(chan error, 2)
	res.Play(func(err error) { results <- err })
	play := readCommand(t, conn)
	assert.Equal(t, OpPlay, play.Op)
	require.NoError(t, conn.WriteJSON(MediaEvent{Event: EvPlayResult, ID: load.ID, Request: play.Request, AutoplayBlocked: true}))
	assert.ErrorIs(t, waitFor(t, results), media.ErrAutoplayBlocked)

	res.Play(func(err error) { results <- err })
	play = readCommand(t, conn)
	require.NoError(t, conn.WriteJSON(MediaEvent{Event: EvPlayResult, ID: load.ID, Request: play.Request}))
	assert.NoError(t, waitFor(t, results))

	require.NoError(t, conn.WriteJSON(MediaEvent{Event: EvPosition, ID: load.ID, Position: 4.5}))
	require.Eventually(t, func() bool { return res.Position() == 4500*time.Millisecond }, time.Second, 5*time.Millisecond)

	res.Seek(time.Second)
	seek := readCommand(t, conn)
	assert.Equal(t, OpSeek, seek.Op)
	assert.Equal(t, 1.0, seek.Position)
	assert.Equal(t, time.Second, res.Position())

	require.NoError(t, conn.WriteJSON(MediaEvent{Event: EvEnded, ID: load.ID}))
	waitFor(t, l.ended)
}

func TestRemoteMediaDropsStaleEvents(t *testing.T) {
	env := newTestEnv(t)
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(PathMedia), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, env.media.Connected, time.Second, 5*time.Millisecond)

	old := newRecordingListener()
	first, err := env.media.Open(media.Source{URI: "a.mp4"}, old)
	require.NoError(t, err)
	firstLoad := readCommand(t, conn)
	first.Close()
	assert.Equal(t, OpClose, readCommand(t, conn).Op)

	cur := newRecordingListener()
	_, err = env.media.Open(media.Source{URI: "b.mp4"}, cur)
	require.NoError(t, err)
	secondLoad := readCommand(t, conn)

	require.NoError(t, conn.WriteJSON(MediaEvent{Event: EvError, ID: firstLoad.ID, Error: "gone"}))
	require.NoError(t, conn.WriteJSON(MediaEvent{Event: EvLoaded, ID: secondLoad.ID}))
	waitFor(t, cur.loaded)
	assert.Empty(t, old.failed)
}

func TestRemoteMediaPeerLoss(t *testing.T) {
	env := newTestEnv(t)
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(PathMedia), nil)
	require.NoError(t, err)
	require.Eventually(t, env.media.Connected, time.Second, 5*time.Millisecond)

	l := newRecordingListener()
	res, err := env.media.Open(media.Source{URI: "clip.mp4"}, l)
	require.NoError(t, err)
	readCommand(t, conn)

	results := make(chan error, 1)
	res.Play(func(err error) { results <- err })
	readCommand(t, conn)

	conn.Close()
	assert.True(t, errors.Is(waitFor(t, results), ErrPeerDisconnected))
	assert.ErrorIs(t, waitFor(t, l.failed), ErrPeerDisconnected)
	require.Eventually(t, func() bool { return !env.media.Connected() }, time.Second, 5*time.Millisecond)

	res.Play(func(err error) { results <- err })
	assert.ErrorIs(t, waitFor(t, results), ErrNoPeer)
}
