package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raushankrgupta/photo-restorer/restoration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	res *restoration.Result
	err error
}

type pendingCall struct {
	ctx         context.Context
	image       []byte
	mimeType    string
	instruction string
	reply       chan reply
}

// fakeRestorer blocks every call until the test answers it, the way a real
// network call would ignore an abandoned session.
type fakeRestorer struct {
	mu    sync.Mutex
	calls []*pendingCall
}

func (f *fakeRestorer) Restore(ctx context.Context, image []byte, mimeType, instruction string) (*restoration.Result, error) {
	c := &pendingCall{ctx: ctx, image: image, mimeType: mimeType, instruction: instruction, reply: make(chan reply, 1)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	r := <-c.reply
	return r.res, r.err
}

func (f *fakeRestorer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRestorer) call(t *testing.T, i int) *pendingCall {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() > i }, time.Second, time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (c *pendingCall) succeed(data string) {
	c.reply <- reply{res: &restoration.Result{Data: []byte(data), MIMEType: "image/png"}}
}

func (c *pendingCall) fail(err error) {
	c.reply <- reply{err: err}
}

func photo(name string) Image {
	return Image{Data: []byte("bytes-of-" + name), MIMEType: "image/jpeg", Name: name + ".jpg"}
}

func newTestMachine(r Restorer, opts Options) *Machine {
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Hour
	}
	return NewMachine("test-session", r, opts)
}

func waitStatus(t *testing.T, m *Machine, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want }, time.Second, time.Millisecond)
}

func TestNewMachineIsIdle(t *testing.T) {
	m := newTestMachine(&fakeRestorer{}, Options{})
	snap := m.Snapshot()

	assert.Equal(t, StatusIdle, snap.Status)
	assert.Nil(t, snap.Original)
	assert.Nil(t, snap.Restored)
	assert.Zero(t, snap.Progress)
	assert.Empty(t, snap.Error)
}

func TestSelectImageRejectsEmptyBlob(t *testing.T) {
	m := newTestMachine(&fakeRestorer{}, Options{})
	assert.ErrorIs(t, m.SelectImage(Image{MIMEType: "image/png"}), ErrEmptyImage)
	assert.Equal(t, StatusIdle, m.Status())
}

func TestRestoreSuccess(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	require.NoError(t, m.SelectImage(photo("grandma")))
	require.NoError(t, m.SetInstruction("add warm tones"))
	require.NoError(t, m.BeginRestore())
	assert.Equal(t, StatusInFlight, m.Status())

	c := fr.call(t, 0)
	assert.Equal(t, []byte("bytes-of-grandma"), c.image)
	assert.Equal(t, "image/jpeg", c.mimeType)
	assert.Equal(t, "add warm tones", c.instruction)

	c.succeed("restored")
	waitStatus(t, m, StatusSucceeded)

	snap := m.Snapshot()
	require.NotNil(t, snap.Restored)
	assert.Equal(t, []byte("restored"), snap.Restored.Data)
	assert.Equal(t, "image/png", snap.Restored.MIMEType)
	assert.Equal(t, "grandma.jpg", snap.Restored.Name)
	assert.Equal(t, ProgressDone, snap.Progress)
	assert.Empty(t, snap.Error)
	assert.False(t, snap.FinishedAt.IsZero())
}

func TestRestoreFailure(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.BeginRestore())
	fr.call(t, 0).fail(&restoration.Error{Kind: restoration.KindTransport, Op: "generate", Err: errors.New("connection reset")})
	waitStatus(t, m, StatusFailed)

	snap := m.Snapshot()
	assert.Equal(t, "Failed to restore image. connection reset", snap.Error)
	assert.Nil(t, snap.Restored)
	require.NotNil(t, snap.Original, "the upload survives a failure")
}

func TestRestoreEmptyResultIsNoImageFailure(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.BeginRestore())
	fr.call(t, 0).reply <- reply{}
	waitStatus(t, m, StatusFailed)

	assert.Contains(t, m.Snapshot().Error, "no image returned")
}

func TestBeginRestoreFromIdle(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	assert.ErrorIs(t, m.BeginRestore(), ErrNoImage)
	assert.Equal(t, StatusIdle, m.Status())
	assert.Zero(t, fr.count())
}

func TestBeginRestoreWhileInFlightIsRejected(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.BeginRestore())
	fr.call(t, 0)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, m.BeginRestore(), ErrInFlight)
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, fr.count(), "exactly one outbound request per accepted BeginRestore")
}

func TestBeginRestoreAgainFromTerminalStates(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.BeginRestore())
	fr.call(t, 0).fail(errors.New("boom"))
	waitStatus(t, m, StatusFailed)

	require.NoError(t, m.SetInstruction("sharper"))
	require.NoError(t, m.BeginRestore())
	snap := m.Snapshot()
	assert.Equal(t, StatusInFlight, snap.Status)
	assert.Empty(t, snap.Error, "prior error is cleared")
	assert.Zero(t, snap.Progress)

	c := fr.call(t, 1)
	assert.Equal(t, "sharper", c.instruction)
	c.succeed("one")
	waitStatus(t, m, StatusSucceeded)

	require.NoError(t, m.BeginRestore())
	assert.Nil(t, m.Snapshot().Restored, "restored image only exists in Succeeded")
	c = fr.call(t, 2)
	assert.Equal(t, []byte("bytes-of-a"), c.image, "restore again re-sends the original upload")
	c.succeed("two")
	waitStatus(t, m, StatusSucceeded)
	assert.Equal(t, []byte("two"), m.Snapshot().Restored.Data)
	assert.Equal(t, 3, fr.count())
}

func TestSetInstructionRejectedInFlight(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.SetInstruction("first"))
	require.NoError(t, m.BeginRestore())

	assert.ErrorIs(t, m.SetInstruction("second"), ErrInFlight)
	assert.Equal(t, "first", m.Snapshot().Instruction)
	fr.call(t, 0).succeed("ok")
}

func TestSelectImageClearsSessionFromEveryState(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	// Succeeded
	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.SetInstruction("x"))
	require.NoError(t, m.BeginRestore())
	fr.call(t, 0).succeed("r")
	waitStatus(t, m, StatusSucceeded)

	require.NoError(t, m.SelectImage(photo("b")))
	snap := m.Snapshot()
	assert.Equal(t, StatusSelected, snap.Status)
	assert.Nil(t, snap.Restored)
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.Instruction)
	assert.Zero(t, snap.Progress)
	assert.Equal(t, "b.jpg", snap.Original.Name)

	// Failed
	require.NoError(t, m.SetInstruction("y"))
	require.NoError(t, m.BeginRestore())
	fr.call(t, 1).fail(errors.New("nope"))
	waitStatus(t, m, StatusFailed)

	require.NoError(t, m.SelectImage(photo("c")))
	snap = m.Snapshot()
	assert.Equal(t, StatusSelected, snap.Status)
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.Instruction)

	// InFlight
	require.NoError(t, m.BeginRestore())
	require.NoError(t, m.SelectImage(photo("d")))
	snap = m.Snapshot()
	assert.Equal(t, StatusSelected, snap.Status)
	assert.Equal(t, "d.jpg", snap.Original.Name)
	fr.call(t, 2).succeed("late")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StatusSelected, m.Status(), "the abandoned call must not land")
}

func TestResetClearsEverything(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.SetInstruction("x"))
	require.NoError(t, m.BeginRestore())
	c := fr.call(t, 0)

	m.Reset()
	snap := m.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Nil(t, snap.Original)
	assert.Empty(t, snap.Instruction)
	assert.Zero(t, snap.Progress)
	assert.Error(t, c.ctx.Err(), "the abandoned call's context is cancelled")

	c.succeed("late")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StatusIdle, m.Status())
}

func TestProgressIsMonotonicAndCapped(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{TickInterval: time.Millisecond, Rand: func() float64 { return 0.9 }})

	require.NoError(t, m.SelectImage(photo("a")))
	updates, cancel := m.Subscribe()
	defer cancel()
	require.NoError(t, m.BeginRestore())

	var seen []float64
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case snap := <-updates:
			if snap.Status != StatusInFlight {
				continue
			}
			seen = append(seen, snap.Progress)
			if snap.Progress == ProgressCap {
				break collect
			}
		case <-deadline:
			t.Fatalf("progress never reached the cap, saw %v", seen)
		}
	}

	for i, p := range seen {
		assert.LessOrEqual(t, p, ProgressCap)
		if i > 0 {
			assert.GreaterOrEqual(t, p, seen[i-1])
		}
	}

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ProgressCap, m.Snapshot().Progress, "progress holds at the cap until resolution")

	fr.call(t, 0).succeed("r")
	waitStatus(t, m, StatusSucceeded)
	assert.Equal(t, ProgressDone, m.Snapshot().Progress)
}

func TestProgressResetsOnEachEpisode(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{TickInterval: time.Millisecond, Rand: func() float64 { return 0.5 }})

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.BeginRestore())
	require.Eventually(t, func() bool { return m.Snapshot().Progress > 0 }, time.Second, time.Millisecond)
	fr.call(t, 0).fail(errors.New("x"))
	waitStatus(t, m, StatusFailed)

	m.mu.Lock()
	m.opts.TickInterval = time.Hour
	m.mu.Unlock()
	require.NoError(t, m.BeginRestore())
	assert.Zero(t, m.Snapshot().Progress)
	fr.call(t, 1).succeed("r")
}

func TestTickerStopsAfterReset(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{TickInterval: time.Millisecond, Rand: func() float64 { return 0.01 }})

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.BeginRestore())
	require.Eventually(t, func() bool { return m.Snapshot().Progress > 0 }, time.Second, time.Millisecond)

	m.Reset()
	updates, cancel := m.Subscribe()
	defer cancel()
	first := <-updates
	assert.Equal(t, StatusIdle, first.Status)

	time.Sleep(30 * time.Millisecond)
	select {
	case snap := <-updates:
		t.Fatalf("unexpected update after reset: %+v", snap)
	default:
	}
	assert.Zero(t, m.Snapshot().Progress)
}

func TestTickerStopsAfterResolution(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{TickInterval: time.Millisecond, Rand: func() float64 { return 0.01 }})

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.BeginRestore())
	require.Eventually(t, func() bool { return m.Snapshot().Progress > 0 }, time.Second, time.Millisecond)
	fr.call(t, 0).fail(errors.New("x"))
	waitStatus(t, m, StatusFailed)

	frozen := m.Snapshot().Progress
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, m.Snapshot().Progress)
}

func TestStaleResolutionNeverTouchesNewerSession(t *testing.T) {
	fr := &fakeRestorer{}
	var (
		mu          sync.Mutex
		resolutions []Resolution
	)
	m := newTestMachine(fr, Options{OnResolve: func(r Resolution) {
		mu.Lock()
		resolutions = append(resolutions, r)
		mu.Unlock()
	}})

	require.NoError(t, m.SelectImage(photo("A")))
	require.NoError(t, m.BeginRestore())
	callA := fr.call(t, 0)
	m.Reset()

	require.NoError(t, m.SelectImage(photo("B")))
	require.NoError(t, m.BeginRestore())
	callB := fr.call(t, 1)

	callA.succeed("restored-A")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(resolutions) == 1
	}, time.Second, time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, StatusInFlight, snap.Status)
	assert.Nil(t, snap.Restored)
	assert.Equal(t, "B.jpg", snap.Original.Name)

	callB.fail(errors.New("B broke"))
	waitStatus(t, m, StatusFailed)
	snap = m.Snapshot()
	assert.Equal(t, "Failed to restore image. B broke", snap.Error)
	assert.Nil(t, snap.Restored)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, resolutions, 2)
	assert.True(t, resolutions[0].Stale)
	assert.Equal(t, "A.jpg", resolutions[0].Original.Name)
	assert.False(t, resolutions[1].Stale)
	assert.Equal(t, StatusFailed, resolutions[1].Status)
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	updates, cancel := m.Subscribe()
	assert.Equal(t, StatusIdle, (<-updates).Status)

	require.NoError(t, m.SelectImage(photo("a")))
	assert.Equal(t, StatusSelected, (<-updates).Status)

	cancel()
	cancel()
	_, ok := <-updates
	assert.False(t, ok, "channel is closed after cancel")
}

func TestCloseEndsSubscriptions(t *testing.T) {
	fr := &fakeRestorer{}
	m := newTestMachine(fr, Options{})

	updates, cancel := m.Subscribe()
	defer cancel()
	<-updates

	require.NoError(t, m.SelectImage(photo("a")))
	require.NoError(t, m.BeginRestore())
	c := fr.call(t, 0)
	m.Close()

	for range updates {
	}
	assert.Equal(t, StatusIdle, m.Status())
	assert.Error(t, c.ctx.Err())
	c.succeed("late")

	late, lateCancel := m.Subscribe()
	defer lateCancel()
	_, ok := <-late
	assert.False(t, ok)
}
