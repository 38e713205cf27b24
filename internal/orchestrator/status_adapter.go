package orchestrator

import (
	"context"

	"github.com/intranda/goobi-plugin-step-reorder-images/internal/store"
)

type redisStatusAdapter struct{ s *store.RedisStatus }

func NewStatusAdapter(s *store.RedisStatus) StatusStore { return &redisStatusAdapter{s: s} }

func (a *redisStatusAdapter) Set(ctx context.Context, jobID string, st Status) error {
	return a.s.Set(ctx, jobID, toStore(st))
}

func (a *redisStatusAdapter) Transition(ctx context.Context, jobID, from string, st Status) (bool, error) {
	return a.s.Transition(ctx, jobID, from, toStore(st))
}

func toStore(st Status) store.Status {
	return store.Status{
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Start:    st.Start,
		End:      st.End,
		Metadata: st.Metadata,
	}
}

func (a *redisStatusAdapter) Get(ctx context.Context, jobID string) (Status, bool, error) {
	st, ok, err := a.s.Get(ctx, jobID)
	if !ok || err != nil {
		return Status{}, ok, err
	}
	return Status{
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Start:    st.Start,
		End:      st.End,
		Metadata: st.Metadata,
	}, true, nil
}
