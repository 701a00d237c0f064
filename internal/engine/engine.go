// Package engine drives a single deployment through build and run phases
// against the runtime adapter, persisting progress through storage at
// every suspension point (spec.md §4.4, SPEC_FULL §2 C4 — "the hardest
// part of the system").
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/toolforge/deployctl/internal/apperrors"
	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/runtime"
	"github.com/toolforge/deployctl/internal/storage"
)

// Settings carries the two timing knobs the engine needs directly
// (spec.md §6): build_timeout_seconds bounds the build poll loop, and the
// poll interval is fixed by spec at 2 seconds but kept configurable for
// tests.
type Settings struct {
	BuildTimeout time.Duration
	PollInterval time.Duration
}

// DefaultSettings matches spec.md §6's defaults.
func DefaultSettings() Settings {
	return Settings{
		BuildTimeout: 1800 * time.Second,
		PollInterval: 2 * time.Second,
	}
}

// Engine runs one deployment at a time; a single Engine value is shared
// across every concurrently-running deployment task (spec.md §5: "many
// deployments may execute in parallel, one background task per
// deployment").
type Engine struct {
	store    storage.Store
	adapter  runtime.Adapter
	settings Settings
	metrics  *Metrics
	logger   *slog.Logger
}

// New constructs an Engine. logger may be nil, in which case slog.Default
// is used.
func New(store storage.Store, adapter runtime.Adapter, settings Settings, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, adapter: adapter, settings: settings, metrics: metrics, logger: logger}
}

// Run executes one deployment end to end. Intended to be submitted to a
// Pool by the handler that created the deployment; it never returns an
// error because every outcome is captured as deployment state.
func (e *Engine) Run(ctx context.Context, tool, deployID string) {
	start := time.Now()
	log := e.logger.With("tool", tool, "deploy_id", deployID)

	d, err := e.store.GetDeployment(ctx, tool, deployID)
	if err != nil {
		log.Error("engine: could not load deployment to start", "error", err)
		return
	}

	d.Status = model.StatusRunning
	d.LongStatus = fmt.Sprintf("Started at %s", utcNow())
	if !e.persistOrAbort(ctx, log, tool, &d) {
		return
	}

	out := e.doBuild(ctx, log, tool, &d)
	switch out.kind {
	case outcomeLostLeader:
		return
	case outcomeCancelled:
		e.finalizeCancelled(ctx, log, tool, &d)
		e.metrics.Observe(string(model.StatusCancelled), start)
		return
	case outcomeBuildFailed:
		e.finalizeFailed(ctx, log, tool, &d, out.message)
		e.metrics.Observe(string(model.StatusFailed), start)
		return
	}

	out = e.doRun(ctx, log, tool, &d)
	switch out.kind {
	case outcomeLostLeader:
		return
	case outcomeCancelled:
		e.finalizeCancelled(ctx, log, tool, &d)
		e.metrics.Observe(string(model.StatusCancelled), start)
		return
	case outcomeRunFailed:
		e.finalizeFailed(ctx, log, tool, &d, out.message)
		e.metrics.Observe(string(model.StatusFailed), start)
		return
	}

	d.Status = model.StatusSuccessful
	d.LongStatus = fmt.Sprintf("Finished at %s", utcNow())
	e.persistFinal(ctx, log, tool, &d)
	e.metrics.Observe(string(model.StatusSuccessful), start)
}

// doBuild implements spec.md §4.4 step 2, `_do_build`.
func (e *Engine) doBuild(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment) outcome {
	if e.isCancelled(ctx, tool, d.DeployID) {
		return outcome{kind: outcomeCancelled}
	}

	if d.Builds == nil {
		d.Builds = make(map[string]model.BuildProgress, len(d.ToolConfig.ComponentOrder))
	}

	var failedNames []string
	for _, name := range d.ToolConfig.ComponentOrder {
		comp := d.ToolConfig.Components[name]
		switch b := comp.GetBuild().(type) {
		case model.SourceBuildInfo:
			progress, err := e.adapter.StartBuild(ctx, tool, name, b, d.ForceBuild)
			if err != nil {
				log.Warn("engine: StartBuild failed", "component", name, "error", err)
				progress = model.BuildProgress{State: model.BuildFailed, LongStatus: runtime.ParseBuildError(err)}
				failedNames = append(failedNames, name)
			}
			d.Builds[name] = progress
		case model.SourceBuildReference:
			d.Builds[name] = model.BuildProgress{
				State:      model.BuildSkipped,
				LongStatus: fmt.Sprintf("Component re-uses build from %s", b.ReuseFrom),
			}
		default:
			d.Builds[name] = model.BuildProgress{State: model.BuildSkipped}
		}
	}

	if !e.persistOrAbort(ctx, log, tool, d) {
		return outcome{kind: outcomeLostLeader}
	}
	if len(failedNames) > 0 {
		return outcome{kind: outcomeBuildFailed, message: fmt.Sprintf("Build(s) failed: %s", strings.Join(failedNames, ", "))}
	}

	return e.pollBuilds(ctx, log, tool, d)
}

// pollBuilds implements spec.md §4.4 step 2.c/2.d: the 2-second poll loop
// bounded by build_timeout_seconds.
func (e *Engine) pollBuilds(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment) outcome {
	pending := make(map[string]struct{})
	for name, p := range d.Builds {
		if p.State == model.BuildPending || p.State == model.BuildRunning {
			pending[name] = struct{}{}
		}
	}

	start := time.Now()
	ticker := time.NewTicker(e.settings.PollInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return outcome{kind: outcomeCancelled}
		case <-ticker.C:
		}

		changed := false
		for name := range pending {
			info, err := e.adapter.GetBuildInfo(ctx, tool, d.Builds[name].BuildID)
			if err != nil {
				log.Debug("engine: GetBuildInfo failed, will retry next tick", "component", name, "error", err)
				continue
			}
			if info.State != d.Builds[name].State {
				d.Builds[name] = info
				changed = true
			}
			if info.State == model.BuildSuccessful || info.State == model.BuildFailed {
				delete(pending, name)
			}
		}

		if changed {
			if !e.persistOrAbort(ctx, log, tool, d) {
				return outcome{kind: outcomeLostLeader}
			}
		}
		if e.isCancelled(ctx, tool, d.DeployID) {
			return outcome{kind: outcomeCancelled}
		}
		if time.Since(start) >= e.settings.BuildTimeout {
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			return outcome{kind: outcomeBuildFailed, message: fmt.Sprintf("Some builds took too long to finish: %s", strings.Join(names, ", "))}
		}
	}

	var failedNames []string
	for name, p := range d.Builds {
		if p.State == model.BuildFailed {
			failedNames = append(failedNames, fmt.Sprintf("%s (%s)", name, p.BuildID))
		}
	}
	if len(failedNames) > 0 {
		return outcome{kind: outcomeBuildFailed, message: fmt.Sprintf("Build(s) failed: %s", strings.Join(failedNames, ", "))}
	}
	return outcome{kind: outcomeOK}
}

// doRun implements spec.md §4.4 step 3, `_do_run`, in component
// declaration order.
func (e *Engine) doRun(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment) outcome {
	if d.Runs == nil {
		d.Runs = make(map[string]model.RunProgress, len(d.ToolConfig.ComponentOrder))
	}
	for _, name := range d.ToolConfig.ComponentOrder {
		comp := d.ToolConfig.Components[name]
		out := e.runOne(ctx, log, tool, d, name, comp)
		if out.kind != outcomeOK {
			return out
		}
		if e.isCancelled(ctx, tool, d.DeployID) {
			return outcome{kind: outcomeCancelled}
		}
	}
	return outcome{kind: outcomeOK}
}

func (e *Engine) runOne(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment, name string, comp model.ComponentInfo) outcome {
	d.Runs[name] = model.RunProgress{State: model.RunPending}
	if !e.persistOrAbort(ctx, log, tool, d) {
		return outcome{kind: outcomeLostLeader}
	}

	referent := name
	if ref, ok := comp.GetBuild().(model.SourceBuildReference); ok {
		referent = ref.ReuseFrom
	}
	needsRerun := d.ForceRun || d.Builds[referent].State == model.BuildSuccessful
	image := d.Builds[referent].Image
	if image == "" {
		image = runtime.ImageName(tool, referent)
	}

	onRetry := func() {
		if e.metrics != nil {
			e.metrics.BuildRetries.Inc()
		}
	}

	if needsRerun {
		err := runtime.Retry(ctx, onRetry, func() error {
			_, err := e.adapter.DeleteJobIfExists(ctx, tool, name)
			return err
		})
		if err != nil {
			return e.failRun(ctx, log, tool, d, name, err)
		}
	}

	var message string
	var runErr error
	switch c := comp.(type) {
	case model.ContinuousComponentInfo:
		runErr = runtime.Retry(ctx, onRetry, func() error {
			msg, err := e.adapter.RunContinuousJob(ctx, tool, name, c.Run, image, d.ForceRun)
			message = msg
			return err
		})
	case model.ScheduledComponentInfo:
		runErr = runtime.Retry(ctx, onRetry, func() error {
			msg, err := e.adapter.RunScheduledJob(ctx, tool, name, c.Run, image)
			message = msg
			return err
		})
	default:
		d.Runs[name] = model.RunProgress{State: model.RunSkipped}
		if !e.persistOrAbort(ctx, log, tool, d) {
			return outcome{kind: outcomeLostLeader}
		}
		return outcome{kind: outcomeOK}
	}

	if runErr != nil {
		return e.failRun(ctx, log, tool, d, name, runErr)
	}

	d.Runs[name] = model.RunProgress{State: model.RunSuccessful, LongStatus: message}
	if !e.persistOrAbort(ctx, log, tool, d) {
		return outcome{kind: outcomeLostLeader}
	}
	return outcome{kind: outcomeOK}
}

func (e *Engine) failRun(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment, name string, err error) outcome {
	message := runtime.FormatRunError(fmt.Sprintf("run failed for %s", name), err)
	d.Runs[name] = model.RunProgress{State: model.RunFailed, LongStatus: message}
	if !e.persistOrAbort(ctx, log, tool, d) {
		return outcome{kind: outcomeLostLeader}
	}
	return outcome{kind: outcomeRunFailed, message: message}
}

// finalizeCancelled implements spec.md §4.4 "Exception wrapping":
// DeployCancelled -> cancelled, best-effort cancel of in-flight builds,
// every still-pending run marked skipped.
func (e *Engine) finalizeCancelled(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment) {
	e.cancelBuilds(ctx, log, tool, d)
	d.Status = model.StatusCancelled
	d.LongStatus = "Deployment was cancelled"
	skipPendingRuns(d, "Deployment was cancelled")
	e.persistFinal(ctx, log, tool, d)
}

func (e *Engine) finalizeFailed(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment, message string) {
	d.Status = model.StatusFailed
	d.LongStatus = fmt.Sprintf("Got exception: %s", message)
	skipPendingRuns(d, "Skipped due to previous failure")
	e.persistFinal(ctx, log, tool, d)
}

func (e *Engine) cancelBuilds(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment) {
	for name, p := range d.Builds {
		if p.State != model.BuildPending && p.State != model.BuildRunning {
			continue
		}
		if err := e.adapter.CancelBuild(ctx, tool, p.BuildID); err != nil {
			log.Warn("engine: best-effort CancelBuild failed", "component", name, "build_id", p.BuildID, "error", err)
		}
		p.State = model.BuildCancelled
		d.Builds[name] = p
	}
}

func skipPendingRuns(d *model.Deployment, longStatus string) {
	for _, name := range d.ToolConfig.ComponentOrder {
		existing, ok := d.Runs[name]
		if !ok || existing.State == model.RunPending {
			d.Runs[name] = model.RunProgress{State: model.RunSkipped, LongStatus: longStatus}
		}
	}
}

// isCancelled re-reads the deployment fresh from storage; apart from ctx
// cancellation during the poll loop, this is the only way cancellation is
// discovered (spec.md §5: "cancellation is discovered
// by re-reading the deployment before every persist and at every loop
// tick"). A read failure is treated as "not cancelled" — the next
// suspension point will try again.
func (e *Engine) isCancelled(ctx context.Context, tool, deployID string) bool {
	fresh, err := e.store.GetDeployment(ctx, tool, deployID)
	if err != nil {
		return false
	}
	return fresh.Status == model.StatusCancelling
}

// persistOrAbort re-reads the deployment, carries a pending cancellation
// request into the write (so the next isCancelled check observes it instead
// of the write overwriting it), writes the deployment and reports whether
// the caller should keep going. ErrLostLeader means the timeout sweep
// already wrote a terminal status for this id (SPEC_FULL §4 Open Question
// 3); the engine must not resurrect it, so it stops silently rather than
// finalizing.
func (e *Engine) persistOrAbort(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment) bool {
	if e.isCancelled(ctx, tool, d.DeployID) {
		d.Status = model.StatusCancelling
	}
	err := e.store.UpdateDeployment(ctx, tool, *d)
	if err == nil {
		return true
	}
	if errors.Is(err, apperrors.ErrLostLeader) {
		log.Info("engine: lost leadership to the timeout sweep, abandoning run")
	} else {
		log.Error("engine: failed to persist deployment", "error", err)
	}
	return false
}

// persistFinal is the non-cancelling finalize path (spec.md §4.4: "the
// final persist uses the non-cancelling path (never raises cancel)");
// errors are logged but otherwise swallowed since there is no further
// state to transition to.
func (e *Engine) persistFinal(ctx context.Context, log *slog.Logger, tool string, d *model.Deployment) {
	if err := e.store.UpdateDeployment(ctx, tool, *d); err != nil && !errors.Is(err, apperrors.ErrLostLeader) {
		log.Error("engine: failed to persist final deployment state", "error", err)
	}
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
