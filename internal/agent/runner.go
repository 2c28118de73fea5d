// Package agent runs one q chat session per inbound message and streams its
// answer back to the conversation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/Veraticus/qrelay/internal/conversation"
	"github.com/Veraticus/qrelay/internal/delivery"
	"github.com/Veraticus/qrelay/internal/metrics"
	"github.com/Veraticus/qrelay/internal/qchat"
	"github.com/Veraticus/qrelay/internal/stream"
)

const tracerName = "github.com/Veraticus/qrelay/internal/agent"

// Runner drives q chat for a single request: it builds the prompt, streams
// the output back in batches and records the final answer in the history.
type Runner struct {
	launcher qchat.Launcher
	sink     delivery.Sink
	history  conversation.Store
	prompts  PromptBuilder
	recovery *ErrorRecovery
	states   *StateMachine
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	clock    clock.PassiveClock
	logger   *slog.Logger
	config   Config
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner) error

// WithPromptBuilder replaces the prompt texts.
func WithPromptBuilder(b PromptBuilder) RunnerOption {
	return func(r *Runner) error {
		if b.Instruction == "" || b.HistoryPreamble == "" {
			return fmt.Errorf("invalid option: prompt builder needs an instruction and a history preamble")
		}
		r.prompts = b
		return nil
	}
}

// WithMessages replaces the failure texts.
func WithMessages(msgs Messages) RunnerOption {
	return func(r *Runner) error {
		r.recovery = NewErrorRecovery(msgs)
		return nil
	}
}

// WithConfig sets the timing knobs. Zero fields keep their defaults.
func WithConfig(cfg Config) RunnerOption {
	return func(r *Runner) error {
		if cfg.RunTimeout < 0 || cfg.ExitWaitTimeout < 0 || cfg.ReportTimeout < 0 ||
			cfg.FlushInterval < 0 || cfg.MaxBatchLines < 0 {
			return fmt.Errorf("invalid config: timeouts and batch sizes cannot be negative")
		}
		if cfg.RunTimeout > 0 {
			r.config.RunTimeout = cfg.RunTimeout
		}
		if cfg.ExitWaitTimeout > 0 {
			r.config.ExitWaitTimeout = cfg.ExitWaitTimeout
		}
		if cfg.ReportTimeout > 0 {
			r.config.ReportTimeout = cfg.ReportTimeout
		}
		if cfg.MaxBatchLines > 0 {
			r.config.MaxBatchLines = cfg.MaxBatchLines
		}
		if cfg.FlushInterval > 0 {
			r.config.FlushInterval = cfg.FlushInterval
		}
		return nil
	}
}

// WithMetrics reports run outcomes to m.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) error {
		r.metrics = m
		return nil
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) error {
		if t == nil {
			return fmt.Errorf("invalid option: tracer cannot be nil")
		}
		r.tracer = t
		return nil
	}
}

// WithClock replaces the wall clock used for batching and durations.
func WithClock(c clock.PassiveClock) RunnerOption {
	return func(r *Runner) error {
		if c == nil {
			return fmt.Errorf("invalid option: clock cannot be nil")
		}
		r.clock = c
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) error {
		if logger == nil {
			return fmt.Errorf("invalid option: logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// NewRunner creates a runner. All three dependencies are required.
func NewRunner(launcher qchat.Launcher, sink delivery.Sink, history conversation.Store, opts ...RunnerOption) (*Runner, error) {
	if launcher == nil {
		return nil, fmt.Errorf("runner creation failed: launcher is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("runner creation failed: delivery sink is required")
	}
	if history == nil {
		return nil, fmt.Errorf("runner creation failed: history store is required")
	}

	r := &Runner{
		launcher: launcher,
		sink:     sink,
		history:  history,
		prompts:  DefaultPromptBuilder(),
		recovery: NewErrorRecovery(DefaultMessages()),
		states:   NewStateMachine(),
		tracer:   otel.Tracer(tracerName),
		clock:    clock.RealClock{},
		logger:   slog.Default(),
		config: Config{
			RunTimeout:      DefaultRunTimeout,
			ExitWaitTimeout: DefaultExitWaitTimeout,
			ReportTimeout:   DefaultReportTimeout,
			MaxBatchLines:   stream.DefaultMaxLines,
			FlushInterval:   stream.DefaultFlushInterval,
		},
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	r.logger = r.logger.With(slog.String("component", "agent"))
	return r, nil
}

// run is the per-request bookkeeping.
type run struct {
	id      string
	req     Request
	state   State
	started time.Time
	logger  *slog.Logger
	span    trace.Span
}

// Run answers req and returns the text that ended the run: the full answer
// on success, or the error reply that was sent. Run never fails; every
// failure becomes exactly one error reply in the thread.
func (r *Runner) Run(ctx context.Context, req Request) (reply string) {
	rn := &run{
		id:      uuid.NewString(),
		req:     req,
		state:   StateStarting,
		started: r.clock.Now(),
	}
	rn.logger = r.logger.With(
		slog.String("run_id", rn.id),
		slog.String("user_id", req.UserID),
		slog.String("reply_target", req.ReplyTarget))

	ctx, rn.span = r.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("qrelay.run_id", rn.id),
		attribute.String("qrelay.user_id", req.UserID),
		attribute.String("qrelay.app_id", req.AppID),
	))
	defer rn.span.End()

	runCtx, cancel := context.WithTimeout(ctx, r.config.RunTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			rn.logger.ErrorContext(ctx, "panic during agent run",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			reply = r.fail(ctx, rn, &InternalError{Message: fmt.Sprint(p)})
		}
	}()

	rn.logger.InfoContext(ctx, "agent run started", slog.Int("message_length", len(req.Message)))

	answer, err := r.execute(runCtx, rn)
	if err != nil {
		return r.fail(ctx, rn, err)
	}

	elapsed := r.clock.Since(rn.started)
	r.metrics.ObserveRun(string(StateCompleted), elapsed)
	rn.span.SetStatus(codes.Ok, "")
	rn.logger.InfoContext(ctx, "agent run completed",
		slog.Duration("duration", elapsed),
		slog.Int("reply_length", len(answer)))
	return answer
}

func (r *Runner) execute(ctx context.Context, rn *run) (string, error) {
	prompt := r.prompts.Build(r.history.Context(rn.req.UserID), rn.req.Message)

	proc, err := r.launcher.Launch(ctx, qchat.Input(prompt))
	if err != nil {
		return "", &LaunchError{Err: err}
	}
	defer func() {
		if closeErr := proc.Close(); closeErr != nil {
			rn.logger.DebugContext(ctx, "failed to release q chat process", slog.Any("error", closeErr))
		}
	}()

	if err := r.transition(rn, StateStreaming); err != nil {
		return "", err
	}

	batcher := stream.NewBatcher(
		stream.WithMaxLines(r.config.MaxBatchLines),
		stream.WithFlushInterval(r.config.FlushInterval),
		stream.WithClock(r.clock))

	var lines []string
	for line := range stream.Clean(proc.Lines()) {
		lines = append(lines, line)
		if batch, ok := batcher.Offer(line); ok {
			r.deliverBatch(ctx, rn, batch)
		}
	}

	if err := ctx.Err(); err != nil {
		_ = proc.Terminate()
		return "", r.contextError(rn, err)
	}
	if err := proc.Err(); err != nil {
		return "", &InternalError{Message: fmt.Sprintf("failed to read q chat output: %v", err), Err: err}
	}

	if err := r.transition(rn, StateDraining); err != nil {
		return "", err
	}

	code, err := proc.Wait(r.config.ExitWaitTimeout)
	if errors.Is(err, qchat.ErrWaitTimeout) {
		if termErr := proc.Terminate(); termErr != nil {
			rn.logger.WarnContext(ctx, "failed to terminate q chat", slog.Any("error", termErr))
		}
		return "", &TimeoutError{Stage: StateDraining, After: r.config.ExitWaitTimeout}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", r.contextError(rn, ctxErr)
	}
	if err != nil {
		return "", &InternalError{Message: fmt.Sprintf("failed to wait for q chat: %v", err), Err: err}
	}
	if code != 0 {
		return "", &ProcessError{ExitCode: code, Stderr: strings.TrimSpace(proc.Stderr())}
	}

	if batch, ok := batcher.Drain(); ok {
		r.deliverBatch(ctx, rn, batch)
	}
	if len(lines) == 0 {
		return "", &EmptyOutputError{}
	}

	answer := strings.Join(lines, "\n")
	r.history.Append(rn.req.UserID, conversation.RoleAssistant, answer)

	if err := r.transition(rn, StateCompleted); err != nil {
		return "", err
	}
	return answer, nil
}

// contextError maps the end of the run context to a failure.
func (r *Runner) contextError(rn *run, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Stage: rn.state, After: r.config.RunTimeout}
	}
	return &InternalError{Message: "run canceled", Err: err}
}

// deliverBatch sends one threaded batch. Failures are logged and the run
// continues.
func (r *Runner) deliverBatch(ctx context.Context, rn *run, text string) {
	r.metrics.IncFlush()
	err := r.sink.Send(ctx, delivery.Unit{
		AppID:       rn.req.AppID,
		ReplyTarget: rn.req.ReplyTarget,
		Text:        text,
		Threaded:    true,
	})
	if err != nil {
		rn.logger.WarnContext(ctx, "failed to deliver output batch",
			slog.Any("error", err),
			slog.Int("batch_length", len(text)))
		return
	}
	rn.logger.DebugContext(ctx, "output batch delivered", slog.Int("batch_length", len(text)))
}

// fail moves the run to failed and sends the single error reply. The reply
// uses a context detached from the run so an expired run still reports.
func (r *Runner) fail(ctx context.Context, rn *run, err error) string {
	from := rn.state
	if !r.states.IsTerminal(rn.state) {
		rn.state = StateFailed
	}

	kind := r.recovery.ClassifyError(err)
	elapsed := r.clock.Since(rn.started)
	r.metrics.ObserveRun(kind.String(), elapsed)
	rn.span.RecordError(err)
	rn.span.SetStatus(codes.Error, kind.String())
	rn.logger.ErrorContext(ctx, "agent run failed",
		slog.Any("error", err),
		slog.String("failure", kind.String()),
		slog.String("state", string(from)),
		slog.Duration("duration", elapsed))

	message := r.recovery.GenerateUserMessage(err)

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.ReportTimeout)
	defer cancel()
	sendErr := r.sink.Send(reportCtx, delivery.Unit{
		AppID:       rn.req.AppID,
		ReplyTarget: rn.req.ReplyTarget,
		Text:        message,
		Threaded:    true,
	})
	if sendErr != nil {
		rn.logger.ErrorContext(ctx, "failed to deliver error reply", slog.Any("error", sendErr))
	}
	return message
}

func (r *Runner) transition(rn *run, to State) error {
	next, err := r.states.Transition(rn.state, to)
	if err != nil {
		return &InternalError{Message: err.Error(), Err: err}
	}
	rn.logger.Debug("agent run state changed",
		slog.String("from", string(rn.state)),
		slog.String("to", string(next)))
	rn.span.AddEvent(string(next))
	rn.state = next
	return nil
}
