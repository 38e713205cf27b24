package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestAcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := New(Options{RedisURL: "redis://" + mr.Addr(), TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer l.CloseClient()
	ctx := context.Background()

	done, err := l.Acquire(ctx, "/img/master")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, "/img/master/"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second acquire: err = %v, want ErrBusy", err)
	}
	if _, err := l.Acquire(ctx, "/img/media"); err != nil {
		t.Fatalf("other dir: %v", err)
	}
	if ttl := mr.TTL("lock:dir:/img/master"); ttl != time.Minute {
		t.Errorf("ttl = %s", ttl)
	}

	if err := done(ctx); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("lock:dir:/img/master") {
		t.Error("lease still held after release")
	}
	if _, err := l.Acquire(ctx, "/img/master"); err != nil {
		t.Errorf("reacquire: %v", err)
	}
}

func TestReleaseKeepsForeignLease(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := New(Options{RedisURL: "redis://" + mr.Addr(), TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer l.CloseClient()
	ctx := context.Background()

	done, err := l.Acquire(ctx, "/img/master")
	if err != nil {
		t.Fatal(err)
	}
	// lease expired and someone else took it
	mr.FastForward(2 * time.Minute)
	if _, err := l.Acquire(ctx, "/img/master"); err != nil {
		t.Fatal(err)
	}
	if err := done(ctx); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("lock:dir:/img/master") {
		t.Error("stale holder released a foreign lease")
	}
}
