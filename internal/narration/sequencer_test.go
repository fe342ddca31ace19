package narration

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/talkingavatar/internal/eventloop"
)

type utteranceCall struct {
	u Utterance
	l UtteranceListener
}

type fakeBackend struct {
	available bool
	speakErr  error
	calls     []utteranceCall
	pauses    int
	resumes   int
	cancels   int
}

func (b *fakeBackend) Name() string    { return "fake" }
func (b *fakeBackend) Available() bool { return b.available }
func (b *fakeBackend) Voices() []Voice { return nil }
func (b *fakeBackend) Pause()          { b.pauses++ }
func (b *fakeBackend) Resume()         { b.resumes++ }
func (b *fakeBackend) Cancel()         { b.cancels++ }

func (b *fakeBackend) Speak(u Utterance, l UtteranceListener) error {
	if b.speakErr != nil {
		return b.speakErr
	}
	b.calls = append(b.calls, utteranceCall{u: u, l: l})
	l.Started()
	return nil
}

func (b *fakeBackend) last() UtteranceListener {
	return b.calls[len(b.calls)-1].l
}

type recorder struct {
	log []string
}

func (r *recorder) events() Events {
	return Events{
		OnSegmentStart: func(i int) { r.log = append(r.log, fmt.Sprintf("start:%d", i)) },
		OnSegmentError: func(i int, _ error) { r.log = append(r.log, fmt.Sprintf("error:%d", i)) },
		OnSequenceEnd:  func() { r.log = append(r.log, "end") },
		OnFallback:     func(from string, _ error) { r.log = append(r.log, "fallback:"+from) },
	}
}

func newTestSequencer(primary Backend, texts ...string) (*Sequencer, *recorder, *eventloop.ManualScheduler) {
	sched := eventloop.NewManualScheduler()
	seq := NewSequencer(sched, primary, NewTypewriter(sched, DefaultCharsPerSecond), DefaultVoiceParams(), zerolog.Nop())
	rec := &recorder{}
	seq.SetEvents(rec.events())
	seq.SetSegments(NewSegments(texts))
	return seq, rec, sched
}

func TestSequencer_TypewriterNarratesInOrder(t *testing.T) {
	seq, rec, s := newTestSequencer(nil, "A", "B", "C")

	seq.Start()
	s.Flush()
	assert.Equal(t, []string{"start:0"}, rec.log)
	assert.Equal(t, State{Kind: Speaking, Index: 0}, seq.State())

	s.Advance(39 * time.Millisecond)
	assert.Equal(t, []string{"start:0"}, rec.log)

	s.Advance(time.Millisecond)
	assert.Equal(t, []string{"start:0", "start:1"}, rec.log)

	s.Advance(80 * time.Millisecond)
	assert.Equal(t, []string{"start:0", "start:1", "start:2", "end"}, rec.log)
	assert.Equal(t, Complete, seq.State().Kind)
	assert.Equal(t, 2, seq.Cursor())
}

func TestSequencer_BackendNarratesInOrder(t *testing.T) {
	backend := &fakeBackend{available: true}
	seq, rec, s := newTestSequencer(backend, "A", "B", "C")

	seq.Start()
	for i := 0; i < 3; i++ {
		require.Len(t, backend.calls, i+1)
		assert.Equal(t, []string{"A", "B", "C"}[i], backend.calls[i].u.Text)
		backend.last().Finished()
		s.Flush()
	}

	assert.Equal(t, []string{"start:0", "start:1", "start:2", "end"}, rec.log)
	assert.False(t, seq.Status().Fallback)
}

func TestSequencer_SegmentErrorAdvances(t *testing.T) {
	backend := &fakeBackend{available: true}
	seq, rec, s := newTestSequencer(backend, "A", "B")

	seq.Start()
	backend.last().Failed(fmt.Errorf("%w: audio device busy", ErrSynthesis))
	s.Flush()

	assert.Equal(t, []string{"start:0", "error:0", "start:1"}, rec.log)
	assert.Equal(t, State{Kind: Speaking, Index: 1}, seq.State())
}

func TestSequencer_SynchronousSpeakErrorAdvances(t *testing.T) {
	backend := &fakeBackend{available: true, speakErr: ErrSynthesis}
	seq, rec, s := newTestSequencer(backend, "A", "B")

	seq.Start()
	s.Flush()

	assert.Equal(t, []string{"start:0", "error:0", "start:1", "error:1", "end"}, rec.log)
	assert.Equal(t, Complete, seq.State().Kind)
}

func TestSequencer_UnavailableSwitchesToTypewriterForSession(t *testing.T) {
	backend := &fakeBackend{available: true, speakErr: ErrSynthesisUnavailable}
	seq, rec, s := newTestSequencer(backend, "A", "B")

	seq.Start()
	s.Flush()

	assert.Equal(t, []string{"start:0", "fallback:fake"}, rec.log)
	assert.Equal(t, "typewriter", seq.Status().Backend)
	assert.True(t, seq.Status().Fallback)

	backend.speakErr = nil
	s.Advance(time.Second)
	assert.Equal(t, []string{"start:0", "fallback:fake", "start:1", "end"}, rec.log)
	assert.Empty(t, backend.calls, "primary is never used again")

	seq.Start()
	s.Advance(time.Second)
	assert.Empty(t, backend.calls)
}

func TestSequencer_UnavailableAtConstruction(t *testing.T) {
	seq, _, _ := newTestSequencer(&fakeBackend{available: false}, "A")

	st := seq.Status()
	assert.True(t, st.Fallback)
	assert.Equal(t, "typewriter", st.Backend)
}

func TestSequencer_PauseResumeIdempotent(t *testing.T) {
	backend := &fakeBackend{available: true}
	seq, _, _ := newTestSequencer(backend, "A", "B")

	seq.Pause()
	seq.Resume()
	assert.Zero(t, backend.pauses)
	assert.Zero(t, backend.resumes)

	seq.Start()
	seq.Pause()
	seq.Pause()
	assert.Equal(t, 1, backend.pauses)
	assert.Equal(t, State{Kind: Paused, Index: 0}, seq.State())

	seq.Resume()
	seq.Resume()
	assert.Equal(t, 1, backend.resumes)
	assert.Equal(t, State{Kind: Speaking, Index: 0}, seq.State())
}

func TestSequencer_CompletionWhilePausedWaitsForResume(t *testing.T) {
	backend := &fakeBackend{available: true}
	seq, rec, s := newTestSequencer(backend, "A", "B")

	seq.Start()
	seq.Pause()
	backend.last().Finished()
	s.Flush()

	assert.Equal(t, State{Kind: Paused, Index: 0}, seq.State())
	assert.Equal(t, []string{"start:0"}, rec.log)

	seq.Resume()
	assert.Equal(t, State{Kind: Speaking, Index: 1}, seq.State())
	assert.Equal(t, []string{"start:0", "start:1"}, rec.log)
}

func TestSequencer_CancelDropsLateCompletion(t *testing.T) {
	backend := &fakeBackend{available: true}
	seq, rec, s := newTestSequencer(backend, "A", "B")

	seq.Start()
	stale := backend.last()
	seq.Cancel()
	assert.Equal(t, Idle, seq.State().Kind)
	assert.Equal(t, 0, seq.Cursor())
	assert.Equal(t, 1, backend.cancels)

	stale.Finished()
	s.Flush()
	assert.Equal(t, Idle, seq.State().Kind)

	seq.Start()
	stale.Finished()
	s.Flush()
	assert.Equal(t, State{Kind: Speaking, Index: 0}, seq.State())
	assert.Equal(t, []string{"start:0", "start:0"}, rec.log)
}

func TestSequencer_StartAt(t *testing.T) {
	backend := &fakeBackend{available: true}
	seq, rec, _ := newTestSequencer(backend, "A", "B", "C")

	seq.StartAt(1)
	assert.Equal(t, State{Kind: Speaking, Index: 1}, seq.State())
	assert.Equal(t, "B", backend.calls[0].u.Text)

	seq.StartAt(7)
	assert.Equal(t, Complete, seq.State().Kind)
	assert.Equal(t, []string{"start:1", "end"}, rec.log)
}

func TestSequencer_EmptyScriptCompletesImmediately(t *testing.T) {
	seq, rec, _ := newTestSequencer(nil)

	seq.Start()
	assert.Equal(t, Complete, seq.State().Kind)
	assert.Equal(t, []string{"end"}, rec.log)
}

func TestSequencer_MutedUtterancesAreSilent(t *testing.T) {
	backend := &fakeBackend{available: true}
	seq, _, s := newTestSequencer(backend, "A", "B")

	seq.Start()
	seq.SetMuted(true)
	backend.last().Finished()
	s.Flush()

	require.Len(t, backend.calls, 2)
	assert.Equal(t, 1.0, backend.calls[0].u.Params.Volume)
	assert.Equal(t, 0.0, backend.calls[1].u.Params.Volume)
	assert.Equal(t, "es-ES", backend.calls[1].u.Params.Lang)
}

func TestSequencer_SetParamsAppliesToLaterSegments(t *testing.T) {
	backend := &fakeBackend{available: true}
	seq, _, s := newTestSequencer(backend, "A", "B")

	seq.Start()
	seq.SetParams(VoiceParams{Voice: "Monica", Lang: "es-MX", Rate: 1.2, Pitch: 1, Volume: 0.5})
	backend.last().Finished()
	s.Flush()

	require.Len(t, backend.calls, 2)
	assert.Equal(t, "es-ES", backend.calls[0].u.Params.Lang)
	assert.Equal(t, "Monica", backend.calls[1].u.Params.Voice)
	assert.Equal(t, 0.5, backend.calls[1].u.Params.Volume)
	assert.Equal(t, "es-MX", seq.Params().Lang)
}

// Segment k+1 must never start before segment k reported completion,
// whatever order pause, resume and completions arrive in.
func TestSequencer_OrderingUnderRandomInterleavings(t *testing.T) {
	const segments = 6

	for seed := int64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			backend := &fakeBackend{available: true}
			sched := eventloop.NewManualScheduler()
			seq := NewSequencer(sched, backend, nil, DefaultVoiceParams(), zerolog.Nop())

			texts := make([]string, segments)
			for i := range texts {
				texts[i] = fmt.Sprintf("seg-%d", i)
			}
			seq.SetSegments(NewSegments(texts))

			completed := map[int]bool{}
			var starts []int
			ended := false
			seq.SetEvents(Events{
				OnSegmentStart: func(i int) {
					if i > 0 {
						require.True(t, completed[i-1], "segment %d started before %d completed", i, i-1)
					}
					if len(starts) > 0 {
						require.Equal(t, starts[len(starts)-1]+1, i)
					}
					starts = append(starts, i)
				},
				OnSequenceEnd: func() { ended = true },
			})

			seq.Start()
			for step := 0; step < 500 && !ended; step++ {
				switch rng.Intn(5) {
				case 0:
					seq.Pause()
				case 1:
					seq.Resume()
				case 2, 3:
					call := backend.calls[len(backend.calls)-1]
					var idx int
					_, err := fmt.Sscanf(call.u.Text, "seg-%d", &idx)
					require.NoError(t, err)
					completed[idx] = true
					if rng.Intn(4) == 0 {
						call.l.Failed(errors.New("glitch"))
					} else {
						call.l.Finished()
					}
				case 4:
					if len(backend.calls) > 1 {
						backend.calls[rng.Intn(len(backend.calls)-1)].l.Finished()
					}
				}
				if rng.Intn(2) == 0 {
					sched.Flush()
				}
			}
			sched.Flush()
			seq.Resume()
			sched.Flush()

			for !ended {
				call := backend.calls[len(backend.calls)-1]
				var idx int
				_, _ = fmt.Sscanf(call.u.Text, "seg-%d", &idx)
				completed[idx] = true
				call.l.Finished()
				sched.Flush()
				seq.Resume()
			}

			assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, starts)
		})
	}
}

func TestTypewriter_PauseKeepsRemainingTime(t *testing.T) {
	sched := eventloop.NewManualScheduler()
	tw := NewTypewriter(sched, DefaultCharsPerSecond)

	l := &countingListener{}
	require.NoError(t, tw.Speak(Utterance{Text: "Hola", Params: DefaultVoiceParams()}, l))
	assert.Equal(t, 1, l.started)

	sched.Advance(100 * time.Millisecond)
	assert.Equal(t, "Ho", tw.Revealed())
	tw.Pause()
	sched.Advance(time.Second)
	assert.Zero(t, l.finished)
	assert.Equal(t, "Ho", tw.Revealed())

	tw.Resume()
	sched.Advance(59 * time.Millisecond)
	assert.Zero(t, l.finished)
	sched.Advance(time.Millisecond)
	assert.Equal(t, 1, l.finished)
}

func TestTypewriter_RateScalesDuration(t *testing.T) {
	tw := NewTypewriter(eventloop.NewManualScheduler(), DefaultCharsPerSecond)

	assert.Equal(t, 160*time.Millisecond, tw.Duration("Hola", 1))
	assert.Equal(t, 80*time.Millisecond, tw.Duration("Hola", 2))
	assert.Equal(t, 160*time.Millisecond, tw.Duration("Hola", 0))
	assert.Equal(t, 40*time.Millisecond, tw.Duration("ñ", 1))
}

func TestReveal(t *testing.T) {
	assert.Equal(t, "", Reveal("señal", 0, 25))
	assert.Equal(t, "señ", Reveal("señal", 120*time.Millisecond, 25))
	assert.Equal(t, "señal", Reveal("señal", time.Hour, 25))
}

type countingListener struct {
	started, finished, failed int
}

func (l *countingListener) Started()     { l.started++ }
func (l *countingListener) Finished()    { l.finished++ }
func (l *countingListener) Failed(error) { l.failed++ }

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{Name: "Alex", Lang: "en_US", Default: true},
		{Name: "Jorge", Lang: "es_MX"},
		{Name: "Monica", Lang: "es_ES"},
	}

	v, ok := SelectVoice(voices, VoiceParams{Lang: "es-ES"})
	require.True(t, ok)
	assert.Equal(t, "Monica", v.Name)

	v, _ = SelectVoice(voices, VoiceParams{Lang: "es-AR"})
	assert.Equal(t, "Jorge", v.Name)

	v, _ = SelectVoice(voices, VoiceParams{Voice: "alex", Lang: "es-ES"})
	assert.Equal(t, "Alex", v.Name)

	v, _ = SelectVoice(voices, VoiceParams{Lang: "fr-FR"})
	assert.Equal(t, "Alex", v.Name)

	_, ok = SelectVoice(nil, DefaultVoiceParams())
	assert.False(t, ok)
}
