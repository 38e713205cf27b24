package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/intranda/goobi-plugin-step-reorder-images/internal/metrics"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/pluginconf"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/queue"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/reorder"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/store"
)

type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (queue.Message, error)
	Ack(ctx context.Context, msgID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	AddDLQ(ctx context.Context, payload []byte, reason string) error
	Depths(ctx context.Context) (int64, int64, error)
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Transition(ctx context.Context, jobID, from string, st store.Status) (bool, error)
}

type PageStore interface {
	SavePages(ctx context.Context, jobID string, ops []reorder.Operation) error
}

// Lease guards a working directory for the duration of one job.
type Lease interface {
	Acquire(ctx context.Context, dir string) (func(context.Context) error, error)
}

// Engine is the part of reorder.Engine the worker drives.
type Engine interface {
	Reorder(ctx context.Context, jobID string, cfg reorder.Config) (*reorder.Result, error)
}

type Config struct {
	Concurrency    int
	DequeueTimeout time.Duration
	JobTimeout     time.Duration
	// Plugin holds the project/step blocks; nil means plugin defaults.
	Plugin         *pluginconf.File
	DefaultProject string
	DefaultStep    string
}

type Deps struct {
	Queue  Queue
	Status StatusStore
	Pages  PageStore
	Lease  Lease
	Engine Engine
}

type Worker struct {
	cfg  Config
	deps Deps
	host string
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, deps Deps) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 2 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if cfg.DefaultProject == "" {
		cfg.DefaultProject = pluginconf.Wildcard
	}
	if cfg.DefaultStep == "" {
		cfg.DefaultStep = pluginconf.Wildcard
	}
	host, _ := os.Hostname()
	return &Worker{cfg: cfg, deps: deps, host: host, stop: make(chan struct{})}
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
}

// Stop asks every loop to exit after its current job and waits for them
// or for ctx.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("%s-%d", w.host, id)
	log.Info().Int("worker", id).Str("consumer", consumer).Msg("dispatcher worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		default:
		}

		msg, err := w.deps.Queue.Dequeue(context.Background(), consumer, w.cfg.DequeueTimeout)
		if err != nil && msg.ID == "" {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if msg.ID == "" {
			continue
		}
		w.Handle(context.Background(), msg, err)
		w.updateDepths()
	}
}

// Handle processes one dequeued message and always acks it. decodeErr is
// the error Dequeue returned alongside msg, if any.
func (w *Worker) Handle(ctx context.Context, msg queue.Message, decodeErr error) {
	defer func() {
		if err := w.deps.Queue.Ack(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("msg_id", msg.ID).Msg("ack failed")
		}
	}()

	if decodeErr != nil || msg.Job == nil {
		if decodeErr == nil {
			decodeErr = queue.ErrBadPayload
		}
		log.Error().Err(decodeErr).Str("msg_id", msg.ID).Msg("dropping malformed job")
		w.finish(ctx, "", msg.Payload, decodeErr, 0, nil)
		return
	}
	job := *msg.Job
	l := log.With().Str("job_id", job.JobID).Int("process_id", job.ProcessID).Logger()

	if cancelled, _ := w.deps.Queue.IsCancelled(ctx, job.JobID); cancelled {
		l.Warn().Msg("job cancelled before processing; skipping")
		now := time.Now()
		_ = w.deps.Status.Set(ctx, job.JobID, store.Status{Status: store.StatusCancelled, Message: "cancelled", End: &now})
		metrics.ObserveJob("cancelled", 0)
		return
	}

	start := time.Now()
	started, err := w.deps.Status.Transition(ctx, job.JobID, store.StatusQueued,
		store.Status{Status: store.StatusProcessing, Progress: 10, Message: "reordering", Start: &start})
	if err != nil {
		l.Warn().Err(err).Msg("status update failed")
	} else if !started {
		// cancelled between the check above and now
		l.Warn().Msg("job no longer queued; skipping")
		metrics.ObserveJob("cancelled", 0)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()
	res, err := w.run(jobCtx, job)
	w.finish(ctx, job.JobID, msg.Payload, err, time.Since(start), res)
	if err != nil {
		l.Error().Err(err).Msg("reorder job failed")
		return
	}
	l.Info().Str("dir", res.WorkingDir).Int("files", len(res.Operations)).Msg("reorder job done")
}

func (w *Worker) run(ctx context.Context, job queue.Job) (*reorder.Result, error) {
	cfg, err := w.resolve(job)
	if err != nil {
		return nil, err
	}

	if !cfg.DryRun && w.deps.Lease != nil {
		dirs := []string{cfg.TargetDir}
		if cfg.Mirrored() {
			dirs = append(dirs, cfg.SourceDir)
		}
		for _, dir := range dirs {
			release, err := w.deps.Lease.Acquire(ctx, dir)
			if err != nil {
				return nil, err
			}
			defer func(dir string) {
				if err := release(context.Background()); err != nil {
					log.Warn().Err(err).Str("dir", dir).Msg("lease release failed")
				}
			}(dir)
		}
	}

	res, err := w.deps.Engine.Reorder(ctx, job.JobID, cfg)
	if err != nil {
		return nil, err
	}
	if w.deps.Pages != nil {
		if err := w.deps.Pages.SavePages(ctx, job.JobID, res.Operations); err != nil {
			log.Warn().Err(err).Str("job_id", job.JobID).Msg("saving page mapping failed")
		}
	}
	return res, nil
}

// resolve builds the engine configuration: plugin block for the job's
// project and step, then the job's own folders and options.
func (w *Worker) resolve(job queue.Job) (reorder.Config, error) {
	proc := pluginconf.Process{ID: job.ProcessID, Title: job.ProcessTitle, ImagesDir: job.ImagesDir}

	block := pluginconf.Block{}
	if w.cfg.Plugin != nil {
		project, step := job.Project, job.Step
		if project == "" {
			project = w.cfg.DefaultProject
		}
		if step == "" {
			step = w.cfg.DefaultStep
		}
		b, err := w.cfg.Plugin.Resolve(project, step)
		if err != nil {
			return reorder.Config{}, err
		}
		block = b
	}
	cfg := block.Apply(proc)

	if job.SourceDir != "" {
		cfg.SourceDir = proc.Folder(job.SourceDir)
	}
	if job.TargetDir != "" {
		cfg.TargetDir = proc.Folder(job.TargetDir)
	}
	o := job.Options
	if o.UsePrefix != nil {
		cfg.UsePrefix = *o.UsePrefix
	}
	if o.FirstFileIsRight != nil {
		cfg.FirstFileIsRight = *o.FirstFileIsRight
	}
	if o.NamingFormat != "" {
		cfg.NamingFormat = o.NamingFormat
	}
	if o.OddPolicy != "" {
		cfg.OddPolicy = reorder.OddPolicy(o.OddPolicy)
	}
	if o.Blacklist != nil {
		cfg.Blacklist = append([]string(nil), o.Blacklist...)
	}
	cfg.DryRun = o.DryRun
	return cfg, nil
}

func (w *Worker) finish(ctx context.Context, jobID string, payload []byte, err error, took time.Duration, res *reorder.Result) {
	out := classify(err)
	metrics.ObserveJob(out.result, took)

	if out.dlq {
		if derr := w.deps.Queue.AddDLQ(ctx, payload, out.reason); derr != nil {
			log.Error().Err(derr).Str("job_id", jobID).Msg("dlq push failed")
		}
	}
	if jobID == "" {
		return
	}

	now := time.Now()
	st := store.Status{Status: out.status, Progress: 100, End: &now}
	switch {
	case err == nil:
		st.Message = "reordered"
		st.Metadata = map[string]interface{}{
			"dir":         res.WorkingDir,
			"partitioned": res.Partitioned,
			"excluded":    res.Excluded,
			"mirrored":    res.Mirrored,
			"dry_run":     res.DryRun,
		}
		if !res.DryRun {
			metrics.AddFiles(res.Partitioned, res.Excluded)
		}
	case reorder.KindOf(err) != "":
		st.Message = reorder.Message(err)
		st.Metadata = map[string]interface{}{"kind": out.reason}
	default:
		st.Message = err.Error()
		st.Metadata = map[string]interface{}{"kind": out.reason}
	}
	if serr := w.deps.Status.Set(ctx, jobID, st); serr != nil {
		log.Error().Err(serr).Str("job_id", jobID).Msg("status update failed")
	}
}

func (w *Worker) updateDepths() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, dlq, err := w.deps.Queue.Depths(ctx)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			log.Debug().Err(err).Msg("queue depth unavailable")
		}
		return
	}
	metrics.SetQueueDepth("stream", stream)
	metrics.SetQueueDepth("dlq", dlq)
}
