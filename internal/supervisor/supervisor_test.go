package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salestroopz/sessiond/internal/history"
	"github.com/salestroopz/sessiond/internal/process"
)

const testDelay = 80 * time.Millisecond

func newTestSupervisor(t *testing.T, l Launcher) *Supervisor {
	t.Helper()
	s := New(l, WithRestartDelay(testDelay), WithStopWait(100*time.Millisecond))
	t.Cleanup(s.Close)
	return s
}

func snap(t *testing.T, s *Supervisor) Snapshot {
	t.Helper()
	sn, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	return sn
}

func proc(t *testing.T, sn Snapshot, name string) ProcessStatus {
	t.Helper()
	p, ok := sn.Process(name)
	require.True(t, ok, "process %s missing", name)
	return p
}

func TestEnsureStarted_LaunchesAllInOrder(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)

	require.NoError(t, s.EnsureStarted(context.Background(), twoSpecs()))
	sn := snap(t, s)
	assert.Equal(t, StateRunning, sn.State)
	require.Len(t, sn.Processes, 2)
	assert.Equal(t, "api", sn.Processes[0].Name)
	assert.Equal(t, "runner", sn.Processes[1].Name)
	for _, p := range sn.Processes {
		assert.True(t, p.Running)
		assert.NotZero(t, p.PID)
		assert.Zero(t, p.Restarts)
	}
}

func TestEnsureStarted_IsNoOpWhenAllLive(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	ctx := context.Background()

	require.NoError(t, s.EnsureStarted(ctx, twoSpecs()))
	before := snap(t, s)
	require.NoError(t, s.EnsureStarted(ctx, twoSpecs()))
	after := snap(t, s)

	assert.Equal(t, 1, fl.count("api"))
	assert.Equal(t, 1, fl.count("runner"))
	assert.Equal(t, before.Processes, after.Processes)
}

func TestEnsureStarted_SpawnFailureDegrades(t *testing.T) {
	fl := newFakeLauncher()
	fl.setFail("runner", errNoSuchFile)
	s := newTestSupervisor(t, fl)

	err := s.EnsureStarted(context.Background(), twoSpecs())
	require.Error(t, err)
	assert.True(t, process.IsSpawnError(err))

	sn := snap(t, s)
	assert.Equal(t, StateDegraded, sn.State)
	assert.True(t, proc(t, sn, "api").Running)
	assert.False(t, proc(t, sn, "runner").Running)
	assert.False(t, sn.RestartPending, "a failed initial spawn does not schedule a restart")

	// A later call retries only the missing process.
	fl.setFail("runner", nil)
	require.NoError(t, s.EnsureStarted(context.Background(), nil))
	assert.Equal(t, 1, fl.count("api"))
	assert.Equal(t, 1, fl.count("runner"))
	assert.Equal(t, StateRunning, snap(t, s).State)
}

func TestUnexpectedExit_RestartsFullSet(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	require.NoError(t, s.EnsureStarted(context.Background(), twoSpecs()))

	apiBefore := fl.handle("api")
	runnerBefore := fl.handle("runner")
	runnerBefore.crash(1)

	require.Eventually(t, func() bool {
		sn := snap(t, s)
		return sn.State == StateDegraded && sn.RestartPending
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		sn := snap(t, s)
		return sn.State == StateRunning && proc(t, sn, "api").Running && proc(t, sn, "runner").Running
	}, testDelay+time.Second, 10*time.Millisecond)

	sn := snap(t, s)
	api, runner := proc(t, sn, "api"), proc(t, sn, "runner")
	assert.NotEqual(t, apiBefore.Run(), api.Run, "api must be restarted with its sibling")
	assert.NotEqual(t, runnerBefore.Run(), runner.Run)
	assert.True(t, apiBefore.terminated.Load(), "live sibling is terminated before relaunch")
	assert.Equal(t, 0, api.Restarts, "a deliberate stop is not a crash")
	assert.Equal(t, 1, runner.Restarts)
	require.NotNil(t, runner.LastExit)
	assert.Equal(t, 1, runner.LastExit.Code)

	// Exactly one full-set restart.
	time.Sleep(2 * testDelay)
	assert.Equal(t, 2, fl.count("api"))
	assert.Equal(t, 2, fl.count("runner"))
	assert.False(t, snap(t, s).RestartPending)
}

func TestEnsureStarted_DuringRestartDelayKeepsFullSetRestart(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	ctx := context.Background()
	require.NoError(t, s.EnsureStarted(ctx, twoSpecs()))

	apiBefore := fl.handle("api")
	fl.handle("runner").crash(1)
	require.Eventually(t, func() bool { return snap(t, s).RestartPending }, time.Second, 5*time.Millisecond)

	// Shell re-activation inside the restart window.
	require.NoError(t, s.EnsureStarted(ctx, twoSpecs()))
	sn := snap(t, s)
	assert.True(t, sn.RestartPending, "activation must not cancel the pending restart")
	assert.False(t, proc(t, sn, "runner").Running)
	assert.Equal(t, 1, fl.count("runner"))

	require.Eventually(t, func() bool {
		sn := snap(t, s)
		return sn.State == StateRunning && proc(t, sn, "runner").Running
	}, testDelay+time.Second, 10*time.Millisecond)

	sn = snap(t, s)
	assert.NotEqual(t, apiBefore.Run(), proc(t, sn, "api").Run, "sibling restarted together with the crashed process")
	assert.True(t, apiBefore.terminated.Load())
	assert.Equal(t, 2, fl.count("api"))
	assert.Equal(t, 2, fl.count("runner"))
}

// stallingSink never completes a send before its deadline.
type stallingSink struct{ release chan struct{} }

func (s stallingSink) Send(ctx context.Context, _ history.Event) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSlowHistorySinkDoesNotDelayRestart(t *testing.T) {
	sink := stallingSink{release: make(chan struct{})}
	rec := history.NewRecorder(nil, []history.Sink{sink}, history.WithSendTimeout(2*time.Second))
	t.Cleanup(func() {
		close(sink.release)
		_ = rec.Close()
	})

	fl := newFakeLauncher()
	s := New(fl, WithRestartDelay(testDelay), WithStopWait(100*time.Millisecond), WithHistory(rec))
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureStarted(context.Background(), twoSpecs()))

	crashed := time.Now()
	fl.handle("runner").crash(1)
	require.Eventually(t, func() bool {
		return fl.count("api") == 2 && fl.count("runner") == 2
	}, testDelay+500*time.Millisecond, 5*time.Millisecond)
	assert.Less(t, time.Since(crashed), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	sn, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, sn.State)
}

func TestUnexpectedExit_BothCrashScheduleOneRestart(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	require.NoError(t, s.EnsureStarted(context.Background(), twoSpecs()))

	fl.handle("api").crash(2)
	fl.handle("runner").crash(3)

	require.Eventually(t, func() bool {
		return fl.count("api") == 2 && fl.count("runner") == 2
	}, testDelay+time.Second, 10*time.Millisecond)
	time.Sleep(2 * testDelay)
	assert.Equal(t, 2, fl.count("api"))
	assert.Equal(t, 2, fl.count("runner"))

	sn := snap(t, s)
	assert.Equal(t, 1, proc(t, sn, "api").Restarts)
	assert.Equal(t, 1, proc(t, sn, "runner").Restarts)
}

func TestRestart_SpawnFailureReschedules(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	require.NoError(t, s.EnsureStarted(context.Background(), twoSpecs()))

	fl.setFail("runner", errNoSuchFile)
	fl.handle("runner").crash(1)

	require.Eventually(t, func() bool {
		sn := snap(t, s)
		return fl.count("api") >= 2 && sn.State == StateDegraded && sn.RestartPending
	}, testDelay+time.Second, 5*time.Millisecond)

	fl.setFail("runner", nil)
	require.Eventually(t, func() bool {
		sn := snap(t, s)
		return sn.State == StateRunning && proc(t, sn, "runner").Running
	}, 3*testDelay+time.Second, 10*time.Millisecond)
}

func TestBeginShutdown_FirstCallerWins(t *testing.T) {
	s := newTestSupervisor(t, newFakeLauncher())
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.BeginShutdown(ctx)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				first++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, first)
	assert.True(t, snap(t, s).ShuttingDown)
}

func TestShutdown_NoStartsAfterFlag(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	ctx := context.Background()

	_, err := s.BeginShutdown(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.EnsureStarted(ctx, twoSpecs()), ErrShuttingDown)
	assert.Zero(t, fl.count("api"))
}

func TestShutdown_PendingRestartAborts(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	ctx := context.Background()
	require.NoError(t, s.EnsureStarted(ctx, twoSpecs()))

	fl.handle("runner").crash(1)
	require.Eventually(t, func() bool { return snap(t, s).RestartPending }, time.Second, 5*time.Millisecond)

	_, err := s.BeginShutdown(ctx)
	require.NoError(t, err)
	time.Sleep(3 * testDelay)

	assert.Equal(t, 1, fl.count("api"))
	assert.Equal(t, 1, fl.count("runner"))
	assert.Equal(t, StateShuttingDown, snap(t, s).State)
}

func TestShutdown_ExitDuringShutdownOnlyClearsHandle(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	ctx := context.Background()
	require.NoError(t, s.EnsureStarted(ctx, twoSpecs()))
	_, err := s.BeginShutdown(ctx)
	require.NoError(t, err)

	fl.handle("api").crash(9)
	require.Eventually(t, func() bool { return !proc(t, snap(t, s), "api").Running }, time.Second, 5*time.Millisecond)

	sn := snap(t, s)
	assert.Equal(t, StateShuttingDown, sn.State)
	assert.False(t, sn.RestartPending)
	assert.Zero(t, proc(t, sn, "api").Restarts)
}

func TestStopAll_TerminatesEveryHandle(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	ctx := context.Background()
	require.NoError(t, s.EnsureStarted(ctx, twoSpecs()))
	_, err := s.BeginShutdown(ctx)
	require.NoError(t, err)

	require.NoError(t, s.StopAll(ctx))
	sn := snap(t, s)
	assert.Equal(t, StateStopped, sn.State)
	for _, p := range sn.Processes {
		assert.False(t, p.Running)
		assert.Zero(t, p.Restarts)
	}
	assert.True(t, fl.handle("api").terminated.Load())
	assert.True(t, fl.handle("runner").terminated.Load())

	// Exits of deliberately stopped processes never schedule anything.
	time.Sleep(2 * testDelay)
	assert.Equal(t, 1, fl.count("api"))
	assert.False(t, snap(t, s).RestartPending)
}

func TestStopAll_CancelsPendingRestart(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	ctx := context.Background()
	require.NoError(t, s.EnsureStarted(ctx, twoSpecs()))
	fl.handle("api").crash(1)
	require.Eventually(t, func() bool { return snap(t, s).RestartPending }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.StopAll(ctx))
	time.Sleep(2 * testDelay)
	assert.Equal(t, 1, fl.count("api"))
	assert.Equal(t, StateIdle, snap(t, s).State)
}

func TestClose_RejectsCalls(t *testing.T) {
	s := New(newFakeLauncher())
	s.Close()
	s.Close()
	_, err := s.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPIDs(t *testing.T) {
	fl := newFakeLauncher()
	s := newTestSupervisor(t, fl)
	require.NoError(t, s.EnsureStarted(context.Background(), twoSpecs()))
	pids := s.PIDs()
	assert.Equal(t, int32(fl.handle("api").PID()), pids["api"])
	assert.Len(t, pids, 2)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	b, err := StateRunning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "running", string(b))
}

func TestStateTextRoundTrip(t *testing.T) {
	var st State
	require.NoError(t, st.UnmarshalText([]byte("degraded")))
	assert.Equal(t, StateDegraded, st)
	assert.Error(t, st.UnmarshalText([]byte("bogus")))
}
