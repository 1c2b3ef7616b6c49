package service_test

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitmakerla/estela-entrypoint/internal/model"
	"github.com/bitmakerla/estela-entrypoint/internal/service"
	"github.com/bitmakerla/estela-entrypoint/internal/sink/sinktest"
)

func lookSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func TestLauncher(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var sink sinktest.Sink
	launcher := service.NewLauncher(&sink, "J1")
	require.Equal(t, service.StateNotStarted, launcher.State())

	res, err := launcher.Run(t.Context(), service.ProcessSpec{
		Args: []string{sh, "-c", `printf 'a\nb\n'; printf 'e1\r\ne2\n' >&2; exit 3`},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Code)
	require.NotNil(t, res.State)
	require.False(t, res.Stopped.Before(res.Started))
	require.Equal(t, service.StateCompleted, launcher.State())
	require.Equal(t, 3, launcher.LastResult().Code)

	require.Equal(t, []string{"a", "b"}, sink.Stream(model.StreamStdout))
	require.Equal(t, []string{"e1", "e2"}, sink.Stream(model.StreamStderr))
	require.Equal(t, []string{model.LogsTopic}, sink.Topics())
	for _, rec := range sink.Records() {
		require.Equal(t, "J1", rec.JobID)
	}
}

func TestLauncher_Drain(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	const n = 2000
	const m = 1500

	var sink sinktest.Sink
	script := fmt.Sprintf(`i=0
while [ $i -lt %d ]; do echo "out $i"; i=$((i+1)); done &
j=0
while [ $j -lt %d ]; do echo "err $j" >&2; j=$((j+1)); done
wait`, n, m)
	res, err := service.NewLauncher(&sink, "J1").Run(t.Context(), service.ProcessSpec{
		Args: []string{sh, "-c", script},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Code)

	stdout := sink.Stream(model.StreamStdout)
	stderr := sink.Stream(model.StreamStderr)
	require.Len(t, stdout, n)
	require.Len(t, stderr, m)
	for i, line := range stdout {
		require.Equal(t, fmt.Sprintf("out %d", i), line)
	}
	for i, line := range stderr {
		require.Equal(t, fmt.Sprintf("err %d", i), line)
	}
}

func TestLauncher_Partial(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var sink sinktest.Sink
	res, err := service.NewLauncher(&sink, "J1").Run(t.Context(), service.ProcessSpec{
		Args: []string{sh, "-c", `printf 'line1\npartial'; printf 'no newline' >&2`},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Code)
	require.Equal(t, []string{"line1", "partial"}, sink.Stream(model.StreamStdout))
	require.Equal(t, []string{"no newline"}, sink.Stream(model.StreamStderr))
}

func TestLauncher_Env(t *testing.T) {
	sh := lookSh(t)
	t.Setenv("ESTELA_INHERITED", "parent")

	var sink sinktest.Sink
	_, err := service.NewLauncher(&sink, "J1").Run(t.Context(), service.ProcessSpec{
		Args: []string{sh, "-c", `echo "$ESTELA_SPIDER_JOB $ESTELA_INHERITED"`},
		Env:  map[string]string{"ESTELA_SPIDER_JOB": "J1"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"J1 parent"}, sink.Messages())
}

func TestLauncher_Signal(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var sink sinktest.Sink
	res, err := service.NewLauncher(&sink, "J1").Run(t.Context(), service.ProcessSpec{
		Args: []string{sh, "-c", `echo before; kill -9 $$`},
	})
	require.NoError(t, err)
	require.Equal(t, -1, res.Code)
	require.Equal(t, 1, model.ChildFailure(res.Code).ExitCode())
	require.Equal(t, []string{"before"}, sink.Messages())
}

func TestLauncher_Descendant(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var sink sinktest.Sink
	launcher := service.NewLauncher(&sink, "J1", service.WithWaitDelay(100*time.Millisecond))
	started := time.Now()
	res, err := launcher.Run(t.Context(), service.ProcessSpec{
		Args: []string{sh, "-c", `sleep 3 & echo done; exit 0`},
	})
	require.NoError(t, err)
	require.Less(t, time.Since(started), 2*time.Second)
	require.Equal(t, 0, res.Code)
	require.Equal(t, []string{"done"}, sink.Messages())
	require.Equal(t, service.StateCompleted, launcher.State())
}

func TestLauncher_CancelDescendant(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	var sink sinktest.Sink
	launcher := service.NewLauncher(&sink, "J1", service.WithWaitDelay(100*time.Millisecond))
	started := time.Now()
	res, err := launcher.Run(ctx, service.ProcessSpec{
		Args: []string{sh, "-c", `sleep 3 & echo started; wait`},
	})
	require.NoError(t, err)
	require.Less(t, time.Since(started), 2*time.Second)
	require.Equal(t, -1, res.Code)
	require.Equal(t, []string{"started"}, sink.Messages())
}

func TestLauncher_SpawnFailure(t *testing.T) {
	t.Parallel()
	var sink sinktest.Sink
	launcher := service.NewLauncher(&sink, "J1")

	_, err := launcher.Run(t.Context(), service.ProcessSpec{
		Args: []string{"does-not-exist-estela"},
	})
	require.ErrorIs(t, err, model.ErrSpawnFailure)
	var execErr *exec.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, "does-not-exist-estela", execErr.Name)
	require.Equal(t, service.StateLaunchFailed, launcher.State())
	require.Empty(t, sink.Records())

	_, err = launcher.Run(t.Context(), service.ProcessSpec{})
	require.ErrorIs(t, err, model.ErrSpawnFailure)
}
