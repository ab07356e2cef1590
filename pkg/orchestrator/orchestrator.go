// Package orchestrator sequences one run: open a browser session, log into
// the portal, capture every page target in order and hand each screenshot
// to the notifier.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/portalcap/pkg/browser"
	"github.com/entrhq/portalcap/pkg/logging"
	"github.com/entrhq/portalcap/pkg/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrBusy is returned by Run while another run is active.
var ErrBusy = errors.New("a run is already in progress")

// Browser opens browser sessions.
type Browser interface {
	Open(ctx context.Context) (browser.Handle, error)
}

// Notifier delivers status notices and screenshots.
type Notifier interface {
	SendText(ctx context.Context, message string)
	SendPhoto(ctx context.Context, path, caption string) bool
}

// State is the active-run guard value.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config is what a run needs beyond its collaborators.
type Config struct {
	// PortalName appears in the login notice
	PortalName string

	Credentials browser.Credentials

	// Targets are captured in slice order
	Targets []browser.Target
}

// Orchestrator runs at most one session at a time.
type Orchestrator struct {
	browser  Browser
	notifier Notifier
	cfg      Config
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time

	state atomic.Int32

	mu   sync.RWMutex
	last *Summary
}

// New creates an orchestrator in the idle state.
func New(b Browser, n Notifier, cfg Config, logger *logging.Logger) *Orchestrator {
	if cfg.PortalName == "" {
		cfg.PortalName = "Blackboard"
	}
	cfg.Targets = append([]browser.Target(nil), cfg.Targets...)

	return &Orchestrator{
		browser:  b,
		notifier: n,
		cfg:      cfg,
		logger:   logger,
		tracer:   tracing.Tracer(),
		now:      time.Now,
	}
}

// State reports whether a run is active.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// LastSummary returns the most recently finished run, or nil.
func (o *Orchestrator) LastSummary() *Summary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// TryStart atomically moves the guard from idle to running. When it wins,
// onStart is called, the run executes synchronously and its summary is
// returned with true. When a run is already active it returns nil, false
// without side effects.
func (o *Orchestrator) TryStart(ctx context.Context, onStart func()) (*Summary, bool) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		recordBusy()
		return nil, false
	}
	return o.run(ctx, onStart), true
}

// Run executes one run, or returns ErrBusy if one is active.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	summary, started := o.TryStart(ctx, nil)
	if !started {
		return nil, ErrBusy
	}
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, onStart func()) (summary *Summary) {
	summary = &Summary{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
	}
	logger := o.logger.With("run " + summary.RunID[:8])
	recordRunStarted()

	ctx, span := o.tracer.Start(ctx, "portalcap.run",
		trace.WithAttributes(tracing.AttrRunID.String(summary.RunID)))

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("run panicked: %v", r)
			summary.fail(fmt.Errorf("panic: %v", r))
			o.notifier.SendText(ctx, fmt.Sprintf("Error global: %v", r))
		}
		summary.FinishedAt = o.now()
		endRunSpan(span, summary)
		o.finish(logger, summary)
	}()

	if onStart != nil {
		onStart()
	}

	session, err := o.browser.Open(ctx)
	if err != nil {
		logger.Errorf("failed to open browser session: %v", err)
		summary.fail(err)
		o.notifier.SendText(ctx, Describe(err))
		return summary
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warnf("failed to close browser session: %v", err)
		}
	}()

	o.notifier.SendText(ctx, fmt.Sprintf("Iniciando sesion en %s...", o.cfg.PortalName))
	loginCtx, loginSpan := o.tracer.Start(ctx, "portalcap.login")
	err = session.Login(loginCtx, o.cfg.Credentials)
	endSpan(loginSpan, err)
	if err != nil {
		logger.Errorf("login failed: %v", err)
		summary.fail(err)
		o.notifier.SendText(ctx, Describe(err))
		return summary
	}
	logger.Infof("logged in")

	for _, target := range o.cfg.Targets {
		if err := ctx.Err(); err != nil {
			logger.Warnf("run interrupted before %s: %v", target.Name, err)
			summary.fail(err)
			return summary
		}
		o.processPage(ctx, logger, session, target, summary)
	}

	o.notifier.SendText(ctx, "Proceso completado.")
	return summary
}

// processPage captures and delivers one target. Its failures never stop
// the remaining targets.
func (o *Orchestrator) processPage(ctx context.Context, logger *logging.Logger, session browser.Handle, target browser.Target, summary *Summary) {
	ctx, span := o.tracer.Start(ctx, "portalcap.page", trace.WithAttributes(
		tracing.AttrPage.String(target.Name),
		tracing.AttrPageURL.String(target.URL),
	))
	defer span.End()

	o.notifier.SendText(ctx, fmt.Sprintf("Procesando %s...", target.Name))

	path, err := session.Capture(ctx, target)
	if err != nil {
		logger.Errorf("capture of %s failed: %v", target.Name, err)
		summary.record(target.Name, PageCaptureFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		span.SetAttributes(tracing.AttrPageStatus.String(string(PageCaptureFailed)))
		o.notifier.SendText(ctx, fmt.Sprintf("Fallo la captura de %s: %v", target.Name, err))
		return
	}

	if !o.notifier.SendPhoto(ctx, path, fmt.Sprintf("PARTE SUPERIOR - %s", target.Name)) {
		logger.Warnf("delivery of %s failed, artifact left at %s", target.Name, path)
		summary.record(target.Name, PageDeliveryFailed, nil)
		span.SetStatus(codes.Error, "delivery failed")
		span.SetAttributes(tracing.AttrPageStatus.String(string(PageDeliveryFailed)))
		return
	}

	logger.Infof("delivered %s", target.Name)
	summary.record(target.Name, PageDelivered, nil)
	span.SetAttributes(tracing.AttrPageStatus.String(string(PageDelivered)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func endRunSpan(span trace.Span, summary *Summary) {
	span.SetAttributes(
		tracing.AttrDelivered.Int(summary.Delivered()),
		tracing.AttrFailed.Int(summary.Failed()),
	)
	endSpan(span, summary.Err)
}

func (o *Orchestrator) finish(logger *logging.Logger, summary *Summary) {
	o.mu.Lock()
	o.last = summary
	o.mu.Unlock()

	recordRunFinished(summary)
	logger.Infof("run finished in %s: %d delivered, %d failed, error=%v",
		summary.Duration(), summary.Delivered(), summary.Failed(), summary.Err)

	o.state.Store(int32(StateIdle))
}

// Describe renders an error as a chat notice by kind.
func Describe(err error) string {
	var elemErr *browser.ElementError
	switch {
	case errors.As(err, &elemErr):
		return fmt.Sprintf("Elemento no encontrado: %s", elemErr.Selector)
	case errors.Is(err, browser.ErrElementNotFound):
		return fmt.Sprintf("Elemento no encontrado: %v", err)
	case errors.Is(err, browser.ErrTimeout):
		return fmt.Sprintf("Tiempo de espera agotado: %v", err)
	default:
		return fmt.Sprintf("Error global: %v", err)
	}
}
