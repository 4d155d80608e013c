package fhirclient

import (
	"context"
	"time"
)

// Interaction describes one completed request against the FHIR server.
type Interaction struct {
	RequestID    string
	Kind         string
	Method       string
	Path         string
	ResourceType string
	ResourceID   string
	StatusCode   int // 0 when no response was received
	Duration     time.Duration
	Error        string
	Timestamp    time.Time
}

// Failed reports whether the interaction did not complete with a 2xx status.
func (i Interaction) Failed() bool {
	return i.Error != "" || i.StatusCode < 200 || i.StatusCode > 299
}

// Observer consumes Interaction records. Implementations are called
// synchronously on the request path and must not block for long.
type Observer interface {
	ObserveInteraction(ctx context.Context, entry Interaction)
}

// ObserverFunc is a function adapter for Observer.
type ObserverFunc func(ctx context.Context, entry Interaction)

func (f ObserverFunc) ObserveInteraction(ctx context.Context, entry Interaction) {
	f(ctx, entry)
}
