package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/intranda/goobi-plugin-step-reorder-images/internal/fsops"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/limiter"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/pluginconf"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/queue"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/reorder"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/report"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/store"
)

type fakeQueue struct {
	mu        sync.Mutex
	msgs      []queue.Message
	acked     []string
	dlq       []string
	cancelled map[string]bool
}

func (q *fakeQueue) Dequeue(ctx context.Context, _ string, timeout time.Duration) (queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		time.Sleep(time.Millisecond)
		return queue.Message{}, nil
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	return m, nil
}

func (q *fakeQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) IsCancelled(_ context.Context, jobID string) (bool, error) {
	return q.cancelled[jobID], nil
}

func (q *fakeQueue) AddDLQ(_ context.Context, _ []byte, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq = append(q.dlq, reason)
	return nil
}

func (q *fakeQueue) Depths(context.Context) (int64, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.msgs)), int64(len(q.dlq)), nil
}

type fakeStatus struct {
	mu sync.Mutex
	m  map[string][]store.Status
}

func (s *fakeStatus) Set(_ context.Context, jobID string, st store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string][]store.Status{}
	}
	s.m[jobID] = append(s.m[jobID], st)
	return nil
}

func (s *fakeStatus) Transition(_ context.Context, jobID, from string, st store.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string][]store.Status{}
	}
	if h := s.m[jobID]; len(h) > 0 && h[len(h)-1].Status != from {
		return false, nil
	}
	s.m[jobID] = append(s.m[jobID], st)
	return true, nil
}

func (s *fakeStatus) last(jobID string) store.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.m[jobID]
	if len(h) == 0 {
		return store.Status{}
	}
	return h[len(h)-1]
}

type fakePages struct{ saved map[string][]reorder.Operation }

func (p *fakePages) SavePages(_ context.Context, jobID string, ops []reorder.Operation) error {
	if p.saved == nil {
		p.saved = map[string][]reorder.Operation{}
	}
	p.saved[jobID] = ops
	return nil
}

type fakeLease struct {
	held     map[string]bool
	released []string
}

func (l *fakeLease) Acquire(_ context.Context, dir string) (func(context.Context) error, error) {
	if l.held[dir] {
		return nil, fmt.Errorf("%w: %s", limiter.ErrBusy, dir)
	}
	return func(context.Context) error {
		l.released = append(l.released, dir)
		return nil
	}, nil
}

type harness struct {
	q      *fakeQueue
	status *fakeStatus
	pages  *fakePages
	lease  *fakeLease
	w      *Worker
}

func newHarness(t *testing.T, plugin *pluginconf.File) *harness {
	t.Helper()
	h := &harness{
		q:      &fakeQueue{cancelled: map[string]bool{}},
		status: &fakeStatus{},
		pages:  &fakePages{},
		lease:  &fakeLease{held: map[string]bool{}},
	}
	h.w = New(Config{Concurrency: 1, Plugin: plugin}, Deps{
		Queue:  h.q,
		Status: h.status,
		Pages:  h.pages,
		Lease:  h.lease,
		Engine: reorder.New(fsops.NewLocal(), report.Log{}),
	})
	return h
}

func scanDir(t *testing.T, images string, names ...string) string {
	t.Helper()
	dir := filepath.Join(images, "master")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func msgFor(job queue.Job) queue.Message {
	return queue.Message{ID: "1-" + job.JobID, Job: &job, Payload: []byte(job.JobID)}
}

func TestHandleSuccess(t *testing.T) {
	images := t.TempDir()
	dir := scanDir(t, images, "a.tif", "b.tif", "c.tif", "d.tif")
	h := newHarness(t, nil)

	noPrefix := false
	h.w.Handle(context.Background(), msgFor(queue.Job{
		JobID: "j1", ProcessID: 1, ImagesDir: images,
		Options: queue.Options{UsePrefix: &noPrefix},
	}), nil)

	if got := h.status.last("j1"); got.Status != store.StatusDone || got.Progress != 100 {
		t.Fatalf("status = %+v", got)
	}
	want := []string{"0001.tif", "0002.tif", "0003.tif", "0004.tif"}
	if got := listDir(t, dir); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("dir = %v", got)
	}
	if len(h.pages.saved["j1"]) != 4 {
		t.Errorf("pages = %v", h.pages.saved["j1"])
	}
	if len(h.q.acked) != 1 || len(h.q.dlq) != 0 {
		t.Errorf("acked %v dlq %v", h.q.acked, h.q.dlq)
	}
	if len(h.lease.released) != 1 || h.lease.released[0] != dir {
		t.Errorf("released = %v", h.lease.released)
	}
}

func TestHandleClassification(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		opts    queue.Options
		busy    bool
		status  string
		wantDLQ bool
	}{
		{name: "empty", status: store.StatusEmpty},
		{name: "odd", files: []string{"a.tif", "b.tif", "c.tif"}, status: store.StatusFailed},
		{name: "bad format", files: []string{"a.tif", "b.tif"}, opts: queue.Options{NamingFormat: "%s"}, status: store.StatusFailed},
		{name: "busy", files: []string{"a.tif", "b.tif"}, busy: true, status: store.StatusFailed},
		{name: "reserved", files: []string{"goobi_a.tif", "b.tif"}, status: store.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images := t.TempDir()
			dir := scanDir(t, images, tt.files...)
			h := newHarness(t, nil)
			h.lease.held[dir] = tt.busy

			h.w.Handle(context.Background(), msgFor(queue.Job{JobID: "j", ImagesDir: images, Options: tt.opts}), nil)

			got := h.status.last("j")
			if got.Status != tt.status {
				t.Errorf("status = %+v, want %s", got, tt.status)
			}
			if (len(h.q.dlq) > 0) != tt.wantDLQ {
				t.Errorf("dlq = %v", h.q.dlq)
			}
			if len(h.q.acked) != 1 {
				t.Errorf("acked = %v", h.q.acked)
			}
		})
	}
}

func TestHandleOddMessage(t *testing.T) {
	images := t.TempDir()
	scanDir(t, images, "a.tif", "b.tif", "c.tif")
	h := newHarness(t, nil)
	h.w.Handle(context.Background(), msgFor(queue.Job{JobID: "j", ImagesDir: images}), nil)
	if got := h.status.last("j").Message; got != "Reordering of files stopped as there is an odd number of files." {
		t.Errorf("message = %q", got)
	}
}

func TestHandleIOFailureGoesToDLQ(t *testing.T) {
	images := t.TempDir()
	scanDir(t, images, "a.tif", "b.tif")
	h := newHarness(t, nil)
	h.w.deps.Engine = failingEngine{}

	h.w.Handle(context.Background(), msgFor(queue.Job{JobID: "j", ImagesDir: images}), nil)
	if h.status.last("j").Status != store.StatusFailed || len(h.q.dlq) != 1 || h.q.dlq[0] != string(reorder.KindIOFailure) {
		t.Errorf("status %+v dlq %v", h.status.last("j"), h.q.dlq)
	}
}

type failingEngine struct{}

func (failingEngine) Reorder(context.Context, string, reorder.Config) (*reorder.Result, error) {
	return nil, &reorder.Error{Kind: reorder.KindIOFailure, Op: "rename", Err: errors.New("disk gone")}
}

func TestHandleCancelled(t *testing.T) {
	images := t.TempDir()
	dir := scanDir(t, images, "b.tif", "a.tif")
	h := newHarness(t, nil)
	h.q.cancelled["j"] = true

	h.w.Handle(context.Background(), msgFor(queue.Job{JobID: "j", ImagesDir: images}), nil)
	if got := h.status.last("j").Status; got != store.StatusCancelled {
		t.Errorf("status = %s", got)
	}
	if got := listDir(t, dir); fmt.Sprint(got) != "[a.tif b.tif]" {
		t.Errorf("directory touched: %v", got)
	}
}

func TestHandleSkipsJobCancelledAfterCheck(t *testing.T) {
	images := t.TempDir()
	dir := scanDir(t, images, "b.tif", "a.tif")
	h := newHarness(t, nil)
	// status already flipped, cancel flag not yet visible
	_ = h.status.Set(context.Background(), "j", store.Status{Status: store.StatusCancelled})

	h.w.Handle(context.Background(), msgFor(queue.Job{JobID: "j", ImagesDir: images}), nil)
	if got := h.status.last("j").Status; got != store.StatusCancelled {
		t.Errorf("status = %s", got)
	}
	if got := listDir(t, dir); fmt.Sprint(got) != "[a.tif b.tif]" {
		t.Errorf("directory touched: %v", got)
	}
	if len(h.q.acked) != 1 {
		t.Errorf("acked = %v", h.q.acked)
	}
}

func TestHandleBadPayload(t *testing.T) {
	h := newHarness(t, nil)
	h.w.Handle(context.Background(), queue.Message{ID: "9-0", Payload: []byte("{")}, queue.ErrBadPayload)
	if len(h.q.dlq) != 1 || h.q.dlq[0] != "bad_payload" || len(h.q.acked) != 1 {
		t.Errorf("dlq %v acked %v", h.q.dlq, h.q.acked)
	}
}

func TestResolvePluginAndOverrides(t *testing.T) {
	plugin, err := pluginconf.Parse([]byte(`
config:
  - project: ["*"]
    step: ["*"]
    sourceFolder: "{processtitle}_master"
    targetFolder: "{processtitle}_media"
    blacklist: ["_Spine"]
  - project: ["Regis"]
    step: ["*"]
    firstFileIsRight: true
`))
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, plugin)

	cfg, err := h.w.resolve(queue.Job{JobID: "j", ProcessTitle: "book", ImagesDir: "/img"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SourceDir != "/img/book_master" || cfg.TargetDir != "/img/book_media" || cfg.FirstFileIsRight {
		t.Errorf("catch-all: %+v", cfg)
	}

	left := false
	cfg, err = h.w.resolve(queue.Job{
		JobID: "j", Project: "Regis", ProcessTitle: "book", ImagesDir: "/img",
		TargetDir: "/abs/out",
		Options:   queue.Options{FirstFileIsRight: &left, Blacklist: []string{}, DryRun: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TargetDir != "/abs/out" || cfg.FirstFileIsRight || len(cfg.Blacklist) != 0 || !cfg.DryRun {
		t.Errorf("overrides: %+v", cfg)
	}

	strict, _ := pluginconf.Parse([]byte("config:\n  - project: [A]\n    step: [B]\n"))
	h.w.cfg.Plugin = strict
	if _, err := h.w.resolve(queue.Job{JobID: "j", ImagesDir: "/img"}); !errors.Is(err, pluginconf.ErrNoBlock) {
		t.Errorf("err = %v", err)
	}
}

func TestStartStop(t *testing.T) {
	images := t.TempDir()
	dir := scanDir(t, images, "a.tif", "b.tif")
	h := newHarness(t, nil)
	h.q.msgs = append(h.q.msgs, msgFor(queue.Job{JobID: "j", ImagesDir: images}))

	h.w.Start()
	deadline := time.Now().Add(5 * time.Second)
	for h.status.last("j").Status != store.StatusDone && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.w.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.status.last("j").Status; got != store.StatusDone {
		t.Fatalf("status = %s", got)
	}
	if got := listDir(t, dir); fmt.Sprint(got) != "[0001.tif 0002.tif]" {
		t.Errorf("dir = %v", got)
	}
}

func TestClassify(t *testing.T) {
	if o := classify(nil); o.status != store.StatusDone || o.dlq {
		t.Errorf("nil: %+v", o)
	}
	if o := classify(errors.New("redis: connection refused")); o.status != store.StatusFailed || o.reason != "internal" {
		t.Errorf("plain: %+v", o)
	}
	if o := classify(fmt.Errorf("wrap: %w", &reorder.Error{Kind: reorder.KindNameCollision})); o.dlq || o.reason != string(reorder.KindNameCollision) {
		t.Errorf("collision: %+v", o)
	}
}
