package service_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/bitmakerla/estela-entrypoint/internal/metrics"
	"github.com/bitmakerla/estela-entrypoint/internal/model"
	"github.com/bitmakerla/estela-entrypoint/internal/project"
	"github.com/bitmakerla/estela-entrypoint/internal/service"
	"github.com/bitmakerla/estela-entrypoint/internal/sink"
	"github.com/bitmakerla/estela-entrypoint/internal/sink/sinktest"
)

const jobInfo = `{"key":"J1","spider":"s.py","api_host":"h","auth_token":"t","collection":"c","unique":"u"}`

type pipelineTest struct {
	dir      string
	producer *sinktest.Producer
	pipeline *service.Pipeline
}

func newPipelineTest(t *testing.T, script string, opts ...service.Option) pipelineTest {
	t.Helper()
	sh := lookSh(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s.py"), []byte(script), 0o644))

	producer := &sinktest.Producer{}
	opts = append([]service.Option{
		service.WithDir(dir),
		service.WithInterpreter(sh),
		service.WithResolver(project.NewFinder(dir)),
	}, opts...)
	return pipelineTest{
		dir:      dir,
		producer: producer,
		pipeline: service.NewPipeline(sink.NewAdapter(producer), opts...),
	}
}

func (pt pipelineTest) records(t *testing.T) []model.Record {
	t.Helper()
	records, err := pt.producer.Records()
	require.NoError(t, err)
	return records
}

func TestPipeline(t *testing.T) {
	t.Parallel()
	collector := metrics.New()
	pt := newPipelineTest(t, `printf 'line1\nline2'`, service.WithMetrics(collector))

	outcome := pt.pipeline.Run(t.Context(), jobInfo)
	require.Equal(t, model.Success(), outcome)
	require.Equal(t, 0, outcome.ExitCode())

	records := pt.records(t)
	require.Equal(t, []string{"line1", "line2"}, sinktest.Messages(sinktest.Filter(records, model.StreamStdout)))
	require.Empty(t, sinktest.Filter(records, model.StreamStderr))
	for _, rec := range records {
		require.Equal(t, "J1", rec.JobID)
		require.False(t, rec.Time.IsZero())
	}
	for _, msg := range pt.producer.Messages() {
		require.Equal(t, model.LogsTopic, msg.Topic)
	}

	entrypoint := sinktest.Messages(sinktest.Filter(records, model.StreamEntrypoint))
	require.NotEmpty(t, entrypoint)
	require.Contains(t, entrypoint[0], `msg="Running commands"`)
	require.Contains(t, entrypoint[0], "jid=J1")

	require.Equal(t, []string{"connect", "flush", "close"}, pt.producer.Calls())

	count, err := testutil.GatherAndCount(collector.Registry(), "estela_entrypoint_records_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestPipeline_ChildEnv(t *testing.T) {
	t.Parallel()
	pt := newPipelineTest(t, `echo "$ESTELA_SPIDER_JOB $ESTELA_SPIDER_NAME $ESTELA_API_HOST $ESTELA_AUTH_TOKEN $ESTELA_COLLECTION $ESTELA_UNIQUE_COLLECTION"`)

	outcome := pt.pipeline.Run(t.Context(), jobInfo)
	require.Equal(t, 0, outcome.ExitCode())
	stdout := sinktest.Messages(sinktest.Filter(pt.records(t), model.StreamStdout))
	require.Equal(t, []string{"J1 s.py h t c u"}, stdout)
}

func TestPipeline_ResolveSpiderName(t *testing.T) {
	t.Parallel()
	pt := newPipelineTest(t, "echo from s.py\n")
	require.NoError(t, os.WriteFile(filepath.Join(pt.dir, "quotes_spider.py"),
		[]byte("spider_name='quotes'\necho from quotes\n"), 0o644))

	outcome := pt.pipeline.Run(t.Context(),
		`{"key":"J2","spider":"quotes","api_host":"h","auth_token":"t","collection":"c","unique":"u"}`)
	require.Equal(t, 0, outcome.ExitCode())
	stdout := sinktest.Messages(sinktest.Filter(pt.records(t), model.StreamStdout))
	require.Equal(t, []string{"from quotes"}, stdout)
}

func TestPipeline_ChildFailure(t *testing.T) {
	t.Parallel()
	collector := metrics.New()
	pt := newPipelineTest(t, "echo working\necho boom >&2\nexit 3\n", service.WithMetrics(collector))

	outcome := pt.pipeline.Run(t.Context(), jobInfo)
	require.Equal(t, model.OutcomeChildFailure, outcome.Kind)
	require.Equal(t, 3, outcome.ExitCode())
	require.NoError(t, outcome.Err)

	records := pt.records(t)
	require.Equal(t, []string{"working"}, sinktest.Messages(sinktest.Filter(records, model.StreamStdout)))
	require.Equal(t, []string{"boom"}, sinktest.Messages(sinktest.Filter(records, model.StreamStderr)))
	require.Equal(t, 1, pt.producer.Closes())
	require.Equal(t, 1, pt.producer.Flushes())
	expected := `
		# HELP estela_entrypoint_child_exit_code Exit code reported by the entrypoint
		# TYPE estela_entrypoint_child_exit_code gauge
		estela_entrypoint_child_exit_code 3
	`
	err := testutil.GatherAndCompare(collector.Registry(), strings.NewReader(expected), "estela_entrypoint_child_exit_code")
	require.NoError(t, err)
}

func TestPipeline_Partial(t *testing.T) {
	t.Parallel()
	pt := newPipelineTest(t, `printf partial`)

	outcome := pt.pipeline.Run(t.Context(), jobInfo)
	require.Equal(t, 0, outcome.ExitCode())
	stdout := sinktest.Messages(sinktest.Filter(pt.records(t), model.StreamStdout))
	require.Equal(t, []string{"partial"}, stdout)
}

func TestPipeline_BrokerUnavailable(t *testing.T) {
	t.Parallel()
	pt := newPipelineTest(t, "touch spawned\necho spawned\n")
	pt.producer.ConnectErr = errors.New("connection refused")

	outcome := pt.pipeline.Run(t.Context(), jobInfo)
	require.Equal(t, model.OutcomeSetupFailure, outcome.Kind)
	require.Equal(t, 1, outcome.ExitCode())
	require.ErrorIs(t, outcome.Err, model.ErrBrokerUnavailable)

	require.Empty(t, pt.producer.Messages())
	require.Equal(t, []string{"connect", "close"}, pt.producer.Calls())
	require.NoFileExists(t, filepath.Join(pt.dir, "spawned"))
}

func TestPipeline_Configuration(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     error
	}{
		{"empty", "", model.ErrMissingConfiguration},
		{"not an object", "[1, 2]", model.ErrMissingConfiguration},
		{"malformed", `{"key": `, model.ErrMissingConfiguration},
		{"missing key", `{"spider":"s.py","api_host":"h","auth_token":"t","collection":"c","unique":"u"}`, model.ErrInvalidConfiguration},
		{"missing unique", `{"key":"J1","spider":"s.py","api_host":"h","auth_token":"t","collection":"c"}`, model.ErrInvalidConfiguration},
		{"empty spider", `{"key":"J1","spider":"","api_host":"h","auth_token":"t","collection":"c","unique":"u"}`, model.ErrInvalidConfiguration},
		{"unknown spider", `{"key":"J1","spider":"nope","api_host":"h","auth_token":"t","collection":"c","unique":"u"}`, project.ErrSpiderNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			pt := newPipelineTest(t, "touch spawned\n")
			outcome := pt.pipeline.Run(t.Context(), tc.given)
			require.Equal(t, model.OutcomeSetupFailure, outcome.Kind)
			require.Equal(t, 1, outcome.ExitCode())
			require.ErrorIs(t, outcome.Err, tc.then)

			require.Empty(t, pt.producer.Messages())
			require.Equal(t, []string{"close"}, pt.producer.Calls())
			require.NoFileExists(t, filepath.Join(pt.dir, "spawned"))
		})
	}
}

func TestPipeline_SpawnFailure(t *testing.T) {
	t.Parallel()
	pt := newPipelineTest(t, "echo never\n", service.WithInterpreter("does-not-exist-estela"))

	outcome := pt.pipeline.Run(t.Context(), jobInfo)
	require.Equal(t, model.OutcomeSetupFailure, outcome.Kind)
	require.ErrorIs(t, outcome.Err, model.ErrSpawnFailure)
	require.Equal(t, []string{"connect", "flush", "close"}, pt.producer.Calls())

	records := pt.records(t)
	require.Empty(t, sinktest.Filter(records, model.StreamStdout))
	entrypoint := strings.Join(sinktest.Messages(sinktest.Filter(records, model.StreamEntrypoint)), "\n")
	require.Contains(t, entrypoint, "launching child")
}

type panicResolver struct{}

func (panicResolver) Resolve(string) (string, error) {
	panic("resolver exploded")
}

func TestPipeline_Panic(t *testing.T) {
	t.Parallel()
	pt := newPipelineTest(t, "echo never\n", service.WithResolver(panicResolver{}))

	outcome := pt.pipeline.Run(t.Context(), jobInfo)
	require.Equal(t, model.OutcomeSetupFailure, outcome.Kind)
	require.ErrorContains(t, outcome.Err, "resolver exploded")
	require.Equal(t, 1, pt.producer.Closes())
}
