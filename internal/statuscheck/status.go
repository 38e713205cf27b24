package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the queue backend and the image store.
type Checker struct {
	redis      RedisPinger
	imagesRoot string
}

// Options configures the Checker.
type Options struct {
	Redis      RedisPinger
	ImagesRoot string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis  Status `json:"redis"`
	Images Status `json:"images"`
}

func New(opts Options) *Checker {
	return &Checker{redis: opts.Redis, imagesRoot: opts.ImagesRoot}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:  c.checkRedis(ctx),
		Images: c.checkImages(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

// checkImages verifies the images root is a directory the service can
// create files in.
func (c *Checker) checkImages() Status {
	if c.imagesRoot == "" {
		return Status{OK: false, Message: "Images root not configured"}
	}
	fi, err := os.Stat(c.imagesRoot)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	if !fi.IsDir() {
		return Status{OK: false, Message: "Not a directory"}
	}
	f, err := os.CreateTemp(c.imagesRoot, ".reorder-check-*")
	if err != nil {
		return Status{OK: false, Message: "Not writable"}
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return Status{OK: true, Message: fmt.Sprintf("Writable (%s)", filepath.Clean(c.imagesRoot))}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
