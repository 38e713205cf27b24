package dispatcher

import (
	"errors"

	"github.com/intranda/goobi-plugin-step-reorder-images/internal/limiter"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/pluginconf"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/queue"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/reorder"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/store"
)

// outcome is how a finished job is recorded.
type outcome struct {
	status string
	// result is the metrics label
	result string
	// dlq sends the payload to the dead letter stream for manual cleanup
	dlq    bool
	reason string
}

// classify maps a job error to its outcome. Jobs are never retried: a
// reorder that failed halfway leaves prefixed files behind and needs a
// person to look at the directory.
func classify(err error) outcome {
	if err == nil {
		return outcome{status: store.StatusDone, result: "done"}
	}
	if errors.Is(err, queue.ErrBadPayload) {
		return outcome{status: store.StatusFailed, result: "dlq", dlq: true, reason: "bad_payload"}
	}
	if errors.Is(err, limiter.ErrBusy) {
		return outcome{status: store.StatusFailed, result: "failed", reason: "busy"}
	}
	if errors.Is(err, pluginconf.ErrNoBlock) {
		return outcome{status: store.StatusFailed, result: "failed", reason: "no_config"}
	}
	switch kind := reorder.KindOf(err); kind {
	case reorder.KindEmptySource:
		return outcome{status: store.StatusEmpty, result: "empty", reason: string(kind)}
	case reorder.KindIOFailure:
		return outcome{status: store.StatusFailed, result: "dlq", dlq: true, reason: string(kind)}
	case "":
		// errors outside the engine, e.g. Redis while taking the lease
		return outcome{status: store.StatusFailed, result: "failed", reason: "internal"}
	default:
		return outcome{status: store.StatusFailed, result: "failed", reason: string(kind)}
	}
}
