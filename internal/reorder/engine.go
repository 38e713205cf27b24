// Package reorder puts page images scanned in split-stack order (one side
// of every spread first, then the other) back into reading order and
// renumbers them.
//
// A run is strictly linear: mirror (when source and target differ), list,
// extract blacklisted files, partition, rename every file to a temporary
// "goobi_" name, then strip the prefix. The full set of destination names
// is computed and checked for uniqueness before the first file moves.
// There is no rollback; a failed run leaves the working directory as it
// was at the point of failure.
package reorder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// FileSystem is everything the engine needs from storage.
type FileSystem interface {
	// ListImageFiles returns recognised image files in dir sorted by name.
	ListImageFiles(dir string) ([]string, error)
	// ListNames returns the names of all entries in dir, of any kind.
	ListNames(dir string) ([]string, error)
	// Move renames src to dst and must fail if dst exists.
	Move(src, dst string) error
	// Copy duplicates src at dst and must fail if dst exists.
	Copy(src, dst string) error
	EnsureDir(path string) error
	RemoveTree(path string) error
	CopyTree(src, dst string) error
}

// Reporter receives human-readable failure messages for the job tracker.
type Reporter interface {
	ReportError(ctx context.Context, jobID, message string)
}

// Result describes a finished run.
type Result struct {
	JobID       string
	WorkingDir  string
	Mirrored    bool
	DryRun      bool
	Operations  []Operation
	Partitioned int
	Excluded    int
	Duration    time.Duration
}

// Engine runs reorder jobs. It holds no per-run state and may be reused.
type Engine struct {
	fs  FileSystem
	rep Reporter
}

// New returns an Engine over fs reporting failures to rep.
func New(fs FileSystem, rep Reporter) *Engine {
	return &Engine{fs: fs, rep: rep}
}

// Plan lists the source directory and computes every rename without
// touching the filesystem.
func (e *Engine) Plan(ctx context.Context, jobID string, cfg Config) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		e.report(ctx, jobID, err)
		return nil, err
	}
	plan, err := e.plan(cfg.SourceDir, cfg)
	if err != nil {
		e.report(ctx, jobID, err)
		return nil, err
	}
	return plan, nil
}

// Reorder executes a complete run. ctx is only used for reporting; once
// started a run is never interrupted.
func (e *Engine) Reorder(ctx context.Context, jobID string, cfg Config) (*Result, error) {
	start := time.Now()
	res, err := e.reorder(jobID, cfg)
	if err != nil {
		e.report(ctx, jobID, err)
		log.Error().Err(err).Str("job_id", jobID).Str("kind", string(KindOf(err))).Msg("reorder failed")
		return nil, err
	}
	res.Duration = time.Since(start)
	log.Info().
		Str("job_id", jobID).
		Str("dir", res.WorkingDir).
		Int("partitioned", res.Partitioned).
		Int("excluded", res.Excluded).
		Bool("mirrored", res.Mirrored).
		Bool("dry_run", res.DryRun).
		Dur("took", res.Duration).
		Msg("reorder finished")
	return res, nil
}

func (e *Engine) reorder(jobID string, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res := &Result{JobID: jobID, WorkingDir: cfg.TargetDir, Mirrored: cfg.Mirrored(), DryRun: cfg.DryRun}

	if cfg.DryRun {
		plan, err := e.plan(cfg.SourceDir, cfg)
		if err != nil {
			return nil, err
		}
		res.fill(plan)
		return res, nil
	}

	if res.Mirrored {
		if err := e.mirror(cfg.SourceDir, cfg.TargetDir); err != nil {
			return nil, err
		}
		log.Debug().Str("job_id", jobID).Str("from", cfg.SourceDir).Str("to", cfg.TargetDir).Msg("source mirrored")
	} else if err := e.fs.EnsureDir(cfg.TargetDir); err != nil {
		return nil, ioError("ensure dir", cfg.TargetDir, err)
	}

	plan, err := e.plan(cfg.TargetDir, cfg)
	if err != nil {
		return nil, err
	}
	res.fill(plan)

	if err := e.renumber(jobID, plan); err != nil {
		return nil, err
	}
	if err := e.finalize(jobID, plan); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Result) fill(p *Plan) {
	r.WorkingDir = p.WorkingDir
	r.Operations = p.Operations
	r.Partitioned = p.Partitioned
	r.Excluded = p.Excluded
}

func (e *Engine) mirror(src, dst string) error {
	if err := e.fs.RemoveTree(dst); err != nil {
		return ioError("mirror", dst, err)
	}
	if err := e.fs.EnsureDir(dst); err != nil {
		return ioError("mirror", dst, err)
	}
	if err := e.fs.CopyTree(src, dst); err != nil {
		return ioError("mirror", src, err)
	}
	return nil
}

func (e *Engine) plan(dir string, cfg Config) (*Plan, error) {
	paths, err := e.fs.ListImageFiles(dir)
	if err != nil {
		return nil, ioError("list", dir, err)
	}
	if len(paths) == 0 {
		return nil, newError(KindEmptySource, "list", dir, nil)
	}
	if err := e.checkReserved("plan", dir); err != nil {
		return nil, err
	}
	return buildPlan(dir, pageFiles(paths), cfg)
}

// checkReserved fails when any entry in dir, image or not, carries the
// temporary prefix.
func (e *Engine) checkReserved(op, dir string) error {
	names, err := e.fs.ListNames(dir)
	if err != nil {
		return ioError(op, dir, err)
	}
	for _, n := range names {
		if strings.HasPrefix(n, TempPrefix) {
			return newError(KindReservedName, op, filepath.Join(dir, n),
				fmt.Errorf("name starts with %q", TempPrefix))
		}
	}
	return nil
}

// renumber moves every file to its temporary name. Temporary names share
// a prefix no entry in the directory carries, so no move can hit a file
// that has not been processed yet.
func (e *Engine) renumber(jobID string, plan *Plan) error {
	for _, op := range plan.Operations {
		tmp := filepath.Join(plan.WorkingDir, TempName(filepath.Base(op.Final)))
		if err := e.fs.Move(op.Source, tmp); err != nil {
			return ioError("rename", op.Source, err)
		}
		log.Debug().
			Str("job_id", jobID).
			Str("from", filepath.Base(op.Source)).
			Str("to", filepath.Base(tmp)).
			Int("position", op.Position).
			Bool("excluded", op.Excluded).
			Msg("renumbered")
	}
	return nil
}

// finalize moves every temporary name to its final name, then verifies
// that no entry in the working directory carries the prefix any more.
func (e *Engine) finalize(jobID string, plan *Plan) error {
	for _, op := range plan.Operations {
		tmp := filepath.Join(plan.WorkingDir, TempName(filepath.Base(op.Final)))
		if err := e.fs.Move(tmp, op.Final); err != nil {
			return ioError("finalize", tmp, err)
		}
	}
	if err := e.checkReserved("finalize", plan.WorkingDir); err != nil {
		return err
	}
	log.Debug().Str("job_id", jobID).Int("files", len(plan.Operations)).Msg("temporary prefix removed")
	return nil
}

func (e *Engine) report(ctx context.Context, jobID string, err error) {
	if e.rep == nil {
		return
	}
	e.rep.ReportError(ctx, jobID, Message(err))
}

// Message turns an engine error into the text written to the process log.
func Message(err error) string {
	switch KindOf(err) {
	case KindEmptySource:
		return "Reordering of images could not be executed as the source folder is empty."
	case KindOddFileCount:
		return "Reordering of files stopped as there is an odd number of files."
	case KindNameCollision:
		return "Reordering of images stopped as two files would receive the same name: " + err.Error()
	case KindInvalidConfig:
		return "Reordering of images could not be configured: " + err.Error()
	default:
		return "Reordering of images could not be executed: " + err.Error()
	}
}
