package bridge

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/frequency-response-automation/internal/engine"
	"github.com/tamzrod/frequency-response-automation/internal/measurement"
	"github.com/tamzrod/frequency-response-automation/internal/sink"
)

// fakeEngine only records the subscription.
type fakeEngine struct {
	handler engine.Handler
}

func (e *fakeEngine) Subscribe(h engine.Handler) { e.handler = h }
func (e *fakeEngine) Start(*measurement.ControlSystem, measurement.Parameters) error {
	return nil
}
func (e *fakeEngine) Cancel() error { return nil }
func (e *fakeEngine) Close() error  { return nil }

// countingSink counts saves and delegates to the CSV sink.
type countingSink struct {
	saves atomic.Int32
	err   error
	gate  chan struct{}
}

func (s *countingSink) Save(res *measurement.Result, path string) error {
	if s.gate != nil {
		<-s.gate
	}
	s.saves.Add(1)
	if s.err != nil {
		return s.err
	}
	return sink.CSV{}.Save(res, path)
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 678_000_000, time.UTC)

func curve() *measurement.Result {
	return &measurement.Result{
		Channels: []string{"current"},
		Samples: []measurement.Sample{
			{Frequency: 300, Response: []complex128{1}},
			{Frequency: 350, Response: []complex128{2}},
			{Frequency: 400, Response: []complex128{3}},
		},
	}
}

func newBridge(t *testing.T, s sink.Sink) (*Bridge, *fakeEngine, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Frequency Response")
	eng := &fakeEngine{}
	b, err := New(eng, Options{Dir: dir, Sink: s, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	require.Same(t, b, eng.handler)
	return b, eng, dir
}

func await(t *testing.T, b *Bridge) Outcome {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not settle")
	}
	o, _ := b.Result()
	return o
}

func TestNew_CreatesDirectoryAndPlansPath(t *testing.T) {
	b, _, dir := newBridge(t, &countingSink{})

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(dir, "result_20260102_030405.678.csv"), b.Path())
}

func TestNew_PathNeverCollides(t *testing.T) {
	dir := t.TempDir()
	now := func() time.Time { return fixedNow }
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result_20260102_030405.678.csv"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result_20260102_030405.678_1.csv"), nil, 0o644))

	b, err := New(&fakeEngine{}, Options{Dir: dir, Now: now})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "result_20260102_030405.678_2.csv"), b.Path())
}

func TestNew_SameInstantReservesDistinctPaths(t *testing.T) {
	dir := t.TempDir()
	now := func() time.Time { return fixedNow }

	first, err := New(&fakeEngine{}, Options{Dir: dir, Now: now})
	require.NoError(t, err)
	second, err := New(&fakeEngine{}, Options{Dir: dir, Now: now})
	require.NoError(t, err)

	assert.NotEqual(t, first.Path(), second.Path())
	assert.FileExists(t, first.Path())
	assert.FileExists(t, second.Path())
}

func TestRelease_RemovesUnsavedArtifact(t *testing.T) {
	b, eng, _ := newBridge(t, &countingSink{})

	eng.handler.OnCompleted(engine.Completion{Canceled: true})
	await(t, b)
	b.Wait()
	b.Release()

	assert.NoFileExists(t, b.Path())
}

func TestRelease_KeepsSavedArtifact(t *testing.T) {
	b, eng, _ := newBridge(t, &countingSink{})

	eng.handler.OnCompleted(engine.Completion{Result: curve()})
	await(t, b)
	b.Wait()
	b.Release()

	assert.FileExists(t, b.Path())
}

func TestRelease_UnsettledBridge(t *testing.T) {
	b, _, _ := newBridge(t, &countingSink{})

	b.Release()

	assert.NoFileExists(t, b.Path())
}

func TestBridge_SucceededWritesOnce(t *testing.T) {
	s := &countingSink{}
	b, eng, _ := newBridge(t, s)

	eng.handler.OnCompleted(engine.Completion{Result: curve()})
	o := await(t, b)
	b.Wait()

	assert.Equal(t, Succeeded, o.Status)
	assert.NoError(t, o.Err)
	assert.NoError(t, o.Warning)
	assert.Equal(t, b.Path(), o.ResultPath)
	assert.Equal(t, int32(1), s.saves.Load())

	data, err := os.ReadFile(o.ResultPath)
	require.NoError(t, err)
	assert.Equal(t, "frequency_hz,current_re,current_im\n300,1,0\n350,2,0\n400,3,0\n", string(data))
}

func TestBridge_CanceledNeverWrites(t *testing.T) {
	s := &countingSink{}
	b, eng, _ := newBridge(t, s)

	eng.handler.OnCompleted(engine.Completion{Canceled: true, Result: curve()})
	o := await(t, b)
	b.Wait()

	assert.Equal(t, Canceled, o.Status)
	assert.ErrorIs(t, o.Err, ErrCanceled)
	assert.Nil(t, o.Result)
	assert.Zero(t, s.saves.Load())
}

func TestBridge_PartialFailureIsWarning(t *testing.T) {
	failure := errors.New("point 2 failed")
	b, eng, _ := newBridge(t, &countingSink{})

	eng.handler.OnCompleted(engine.Completion{Failure: failure, Result: curve()})
	o := await(t, b)

	assert.Equal(t, Succeeded, o.Status)
	assert.NoError(t, o.Err)
	assert.ErrorIs(t, o.Warning, failure)
	assert.Equal(t, 3, o.Result.Len())
}

func TestBridge_NoResultFaults(t *testing.T) {
	failure := errors.New("excitation overload")
	b, eng, _ := newBridge(t, &countingSink{})

	eng.handler.OnCompleted(engine.Completion{Failure: failure})
	o := await(t, b)

	assert.Equal(t, Faulted, o.Status)
	var fault *EngineFault
	require.ErrorAs(t, o.Err, &fault)
	assert.Equal(t, "measurement produced no result", fault.Reason)
	assert.ErrorIs(t, o.Err, failure)
}

func TestBridge_SaveFailureKeepsSuccess(t *testing.T) {
	diskFull := errors.New("disk full")
	failure := errors.New("point 2 failed")
	b, eng, _ := newBridge(t, &countingSink{err: diskFull})

	eng.handler.OnCompleted(engine.Completion{Failure: failure, Result: curve()})
	o := await(t, b)

	assert.Equal(t, Succeeded, o.Status)
	assert.NoError(t, o.Err)
	assert.ErrorIs(t, o.Warning, diskFull)
	assert.ErrorIs(t, o.Warning, failure)
	assert.Empty(t, o.ResultPath)
}

func TestBridge_ProgressNeverSettles(t *testing.T) {
	b, eng, _ := newBridge(t, &countingSink{})

	eng.handler.OnProgress(engine.Progress{Index: 0, Frequency: 300})
	eng.handler.OnProgress(engine.Progress{Index: 1, Frequency: 350, Err: errors.New("auto range")})

	select {
	case <-b.Done():
		t.Fatal("progress settled the outcome")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBridge_CompletionLeavesNotifyingGoroutine(t *testing.T) {
	s := &countingSink{gate: make(chan struct{})}
	b, eng, _ := newBridge(t, s)

	returned := make(chan struct{})
	go func() {
		eng.handler.OnCompleted(engine.Completion{Result: curve()})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("OnCompleted blocked on the save")
	}
	close(s.gate)
	assert.Equal(t, Succeeded, await(t, b).Status)
}

func TestBridge_CancelAfterSettleLoses(t *testing.T) {
	b, eng, _ := newBridge(t, &countingSink{})

	eng.handler.OnCompleted(engine.Completion{Result: curve()})
	await(t, b)

	assert.False(t, b.Cancel())
	o, err := b.Result()
	assert.NoError(t, err)
	assert.Equal(t, Succeeded, o.Status)
}

func TestBridge_CancelFirstDropsLateCompletion(t *testing.T) {
	s := &countingSink{}
	b, eng, _ := newBridge(t, s)

	require.True(t, b.Cancel())
	eng.handler.OnCompleted(engine.Completion{Result: curve()})
	b.Wait()

	o, err := b.Result()
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, Canceled, o.Status)
	assert.Zero(t, s.saves.Load())
}

func TestBridge_SettlesExactlyOnceUnderRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := &countingSink{}
		b, eng, _ := newBridge(t, s)

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		wg.Add(3)
		go func() {
			defer wg.Done()
			eng.handler.OnCompleted(engine.Completion{Result: curve()})
		}()
		go func() {
			defer wg.Done()
			if b.Cancel() {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if b.Cancel() {
				wins.Add(1)
			}
		}()
		wg.Wait()
		o := await(t, b)
		b.Wait()

		switch o.Status {
		case Succeeded:
			assert.Zero(t, wins.Load())
			assert.Equal(t, int32(1), s.saves.Load())
		case Canceled:
			assert.Equal(t, int32(1), wins.Load())
			assert.Zero(t, s.saves.Load())
		default:
			t.Fatalf("unexpected status %s", o.Status)
		}
	}
}
