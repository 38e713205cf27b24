// Package report delivers engine failure messages to the process log.
package report

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Log writes reports to the service log only.
type Log struct{}

func (Log) ReportError(_ context.Context, jobID, message string) {
	log.Error().Str("job_id", jobID).Msg(message)
}

// LogAppender is the part of the job store that keeps process logs.
type LogAppender interface {
	AppendLog(ctx context.Context, jobID, level, message string) error
}

// Store appends reports to the job's process log and mirrors them to the
// service log. Store failures are logged and otherwise ignored.
type Store struct {
	Logs LogAppender
}

func (s Store) ReportError(ctx context.Context, jobID, message string) {
	Log{}.ReportError(ctx, jobID, message)
	if s.Logs == nil {
		return
	}
	if err := s.Logs.AppendLog(ctx, jobID, "error", message); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("process log append failed")
	}
}
