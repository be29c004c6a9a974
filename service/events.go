package service

import (
	"context"

	"github.com/foomo/confluence-markdown/service/vo"
)

type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventPageDone     EventType = "page_done"
	EventPageExcluded EventType = "page_excluded"
	EventRunFinished  EventType = "run_finished"
)

// Event reports the progress of a conversion run to observers.
type Event struct {
	Type   EventType       `json:"type"`
	RunID  string          `json:"runId"`
	Export string          `json:"export"`
	Total  int             `json:"total,omitempty"`
	Page   *vo.PageReport  `json:"page,omitempty"`
	Result *vo.BuildResult `json:"result,omitempty"`
}

// Observer is called synchronously from the run loop.
type Observer func(Event)

type observerKey struct{}

// ContextWithObserver attaches an observer that receives the events of runs
// started with the returned context, in addition to the service observers.
func ContextWithObserver(ctx context.Context, o Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, o)
}

func observerFromContext(ctx context.Context) (Observer, bool) {
	o, ok := ctx.Value(observerKey{}).(Observer)
	return o, ok
}
