package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/bitmakerla/estela-entrypoint/internal/console"
	"github.com/bitmakerla/estela-entrypoint/internal/log"
	"github.com/bitmakerla/estela-entrypoint/internal/metrics"
	"github.com/bitmakerla/estela-entrypoint/internal/model"
)

const DefaultFlushTimeout = 15 * time.Second

// LogSink is the sink contract the pipeline drives. sink.Adapter implements
// it.
type LogSink interface {
	model.Sink
	Connect(ctx context.Context) error
	Flush(ctx context.Context) error
	Close() error
}

// Resolver maps the spider of a job to a script file name.
type Resolver interface {
	Resolve(spider string) (string, error)
}

// Pipeline runs a single job. It must not be reused.
type Pipeline struct {
	sink         LogSink
	resolver     Resolver
	dir          string
	interpreter  string
	verbose      bool
	flushTimeout time.Duration
	setDefault   bool
	metrics      *metrics.Collector
}

type Option func(*Pipeline)

// WithResolver sets the spider resolver. Without it the spider is used as
// the script file name.
func WithResolver(r Resolver) Option {
	return func(p *Pipeline) {
		p.resolver = r
	}
}

// WithDir sets the directory of the scripts, the working directory by
// default.
func WithDir(dir string) Option {
	return func(p *Pipeline) {
		p.dir = dir
	}
}

func WithInterpreter(interpreter string) Option {
	return func(p *Pipeline) {
		p.interpreter = interpreter
	}
}

func WithVerbose(verbose bool) Option {
	return func(p *Pipeline) {
		p.verbose = verbose
	}
}

func WithFlushTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.flushTimeout = d
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) {
		p.metrics = c
	}
}

// WithDefaultLogger makes the pipeline install its console logger as the
// slog default for the duration of the run. The previous default is
// restored before Run returns.
func WithDefaultLogger() Option {
	return func(p *Pipeline) {
		p.setDefault = true
	}
}

func NewPipeline(sink LogSink, opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:         sink,
		interpreter:  DefaultInterpreter,
		flushTimeout: DefaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the job described by blob and reports how it ended. The
// sink is flushed and closed exactly once, whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, blob string) (outcome model.Outcome) {
	defer p.shutdown(ctx)
	defer func() {
		p.metrics.ExitCode(outcome.ExitCode())
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "pipeline panic", "panic", r, "stack", string(debug.Stack()))
			outcome = model.SetupFailure(fmt.Errorf("panic: %v", r))
		}
	}()
	return p.run(ctx, blob)
}

func (p *Pipeline) run(ctx context.Context, blob string) (outcome model.Outcome) {
	job, err := model.DecodeJob(blob)
	if err != nil {
		slog.ErrorContext(ctx, "decoding job descriptor", "error", err)
		return model.SetupFailure(err)
	}
	if err := job.Validate(); err != nil {
		attrs := []any{"error", err}
		for i, d := range model.ErrorDetails(err) {
			attrs = append(attrs, d.Attr(fmt.Sprintf("detail_%d", i)))
		}
		slog.ErrorContext(ctx, "validating job descriptor", attrs...)
		return model.SetupFailure(err)
	}

	if p.resolver != nil {
		file, err := p.resolver.Resolve(job.Spider)
		if err != nil {
			slog.ErrorContext(ctx, "resolving spider", "spider", job.Spider, "error", err)
			return model.SetupFailure(err)
		}
		job = job.WithSpider(file)
	}

	dir := p.dir
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return model.SetupFailure(fmt.Errorf("getting working directory: %w", err))
		}
	}
	spec := BuildSpec(job, dir, p.interpreter)

	redirector := console.New(p.sink, job.Key)
	defer func() {
		_ = redirector.Close()
	}()
	logger := log.NewConsole(redirector, p.verbose).With("jid", job.Key)
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "pipeline panic", "panic", r, "stack", string(debug.Stack()))
			outcome = model.SetupFailure(fmt.Errorf("panic: %v", r))
		}
	}()
	ctx = log.ContextAttrs(ctx, slog.String("run", uuid.NewString()))

	if err := p.sink.Connect(ctx); err != nil {
		// nothing reaches the broker, tell the operator directly
		slog.ErrorContext(ctx, "connecting log sink", "jid", job.Key, "error", err)
		return model.SetupFailure(err)
	}
	if p.setDefault {
		prev := slog.Default()
		slog.SetDefault(logger)
		defer slog.SetDefault(prev)
	}

	logger.InfoContext(ctx, "Running commands", "args", spec.Args)
	launcher := NewLauncher(p.sink, job.Key)
	res, err := launcher.Run(ctx, spec)
	if err != nil {
		logger.ErrorContext(ctx, "launching child", "error", err)
		return model.SetupFailure(err)
	}

	if res.Code == 0 {
		logger.InfoContext(ctx, "child finished", "duration", res.Stopped.Sub(res.Started))
		return model.Success()
	}
	logger.ErrorContext(ctx, "child failed", "code", res.Code, "duration", res.Stopped.Sub(res.Started))
	return model.ChildFailure(res.Code)
}

// shutdown flushes and closes the sink. It runs exactly once per Run.
func (p *Pipeline) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.flushTimeout)
	defer cancel()
	if err := p.sink.Flush(ctx); err != nil {
		slog.WarnContext(ctx, "flushing log sink", "error", err)
	}
	if err := p.sink.Close(); err != nil {
		slog.WarnContext(ctx, "closing log sink", "error", err)
	}
}
