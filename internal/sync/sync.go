package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/imgmirror/internal/config"
	"github.com/schaermu/imgmirror/internal/normalize"
	"github.com/schaermu/imgmirror/internal/tree"
)

// Engine orchestrates the sync process
type Engine struct {
	cfg     *config.Config
	matcher *tree.Matcher
	exec    *Executor
	logger  *slog.Logger
}

// NewEngine creates a new sync engine. cfg must already be validated.
func NewEngine(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	matcher, err := tree.Compile(cfg.Sync.Patterns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	var normalizer Normalizer
	if cfg.ResizeEnabled() {
		normalizer = normalize.New(normalize.Options{
			Width:   cfg.Resize.Size.Width,
			Height:  cfg.Resize.Size.Height,
			Square:  cfg.Resize.Square,
			Quality: cfg.Resize.Quality,
		}, logger)
	}

	return &Engine{
		cfg:     cfg,
		matcher: matcher,
		exec:    NewExecutor(normalizer, logger),
		logger:  logger,
	}, nil
}

// Run executes the complete sync process. Per-file failures are logged and
// counted but never returned; an error means nothing was applied.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	e.logger.Info("starting sync",
		"source", e.cfg.Paths.Source,
		"dest", e.cfg.Paths.Dest,
		"patterns", e.matcher.Patterns(),
		"resize", e.cfg.ResizeEnabled(),
		"size", e.cfg.Resize.Size.String(),
		"square", e.cfg.Resize.Square,
		"workers", e.cfg.Sync.Workers,
		"dry_run", e.cfg.Sync.DryRun)

	plan, err := e.buildPlan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync plan: %w", err)
	}

	e.logger.Info("sync plan",
		"copy", len(plan.Copy),
		"delete", len(plan.Delete))

	if e.cfg.Sync.DryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return &Summary{Planned: plan.Len(), DryRun: true, Duration: time.Since(start)}, nil
	}

	summary := e.Apply(ctx, plan).Summary()
	summary.Planned = plan.Len()
	summary.Duration = time.Since(start)

	e.logger.Info("sync completed",
		"copied", summary.Copied,
		"deleted", summary.Deleted,
		"normalized", summary.Normalized,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"elapsed", summary.Duration.Round(time.Millisecond).String())

	return &summary, nil
}

// buildPlan scans both trees concurrently and diffs them
func (e *Engine) buildPlan(ctx context.Context) (*Plan, error) {
	var source, dest pathSet

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		source = collect(e.matcher.Eligible(e.cfg.Paths.Source, e.logger))
		return nil
	})

	g.Go(func() error {
		if _, err := os.Stat(e.cfg.Paths.Dest); errors.Is(err, fs.ErrNotExist) {
			e.logger.Info("destination does not exist yet, treating it as empty", "dest", e.cfg.Paths.Dest)
			dest = make(pathSet)
			return nil
		}
		dest = collect(e.matcher.Eligible(e.cfg.Paths.Dest, e.logger))
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.logger.Info("discovered eligible files", "source", len(source), "dest", len(dest))

	return planFromSets(source, dest, e.cfg.Paths.Source, e.cfg.Paths.Dest), nil
}

// Apply executes every action of plan on a bounded worker pool. A failing
// action never stops its siblings. Once ctx is done no further action is
// started; running ones complete.
func (e *Engine) Apply(ctx context.Context, plan *Plan) *Result {
	res := &Result{}

	// plain Group: an action error must not cancel the others
	var g errgroup.Group
	g.SetLimit(e.cfg.Sync.Workers)

	actions := plan.Actions()
	for i, a := range actions {
		if ctx.Err() != nil {
			e.logger.Warn("sync interrupted, remaining actions skipped", "remaining", len(actions)-i)
			break
		}
		g.Go(func() error {
			if err := e.exec.Execute(a, res); err != nil {
				res.failed.Add(1)
				e.logger.Error("action failed",
					"action", a.Kind.String(),
					"path", a.RelPath,
					"error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return res
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, a := range plan.Copy {
		e.logger.Info("[dry-run] would copy", "source", a.SourcePath, "dest", a.DestPath)
	}
	for _, a := range plan.Delete {
		e.logger.Info("[dry-run] would delete", "dest", a.DestPath)
	}
}
