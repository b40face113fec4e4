package contracts

import (
	"context"

	"github.com/XavierBriggs/Iris/pkg/models"
)

// ScoreProvider defines the request/response side of the upstream sports-data vendor
// Implementations must be safe for concurrent use
type ScoreProvider interface {
	// FetchEvents returns the current state of every event the vendor knows for a league.
	// One call serves all tracked events of that league.
	FetchEvents(ctx context.Context, league string) ([]models.ScoreUpdate, error)
}

// PushTransport opens per-event push channels to the upstream vendor
type PushTransport interface {
	// Open subscribes to one event and returns a channel delivering its updates in order
	Open(ctx context.Context, eventID, league string) (PushChannel, error)
}

// PushMessageKind distinguishes score frames from keep-alive frames
type PushMessageKind string

const (
	PushUpdate    PushMessageKind = "update"
	PushHeartbeat PushMessageKind = "heartbeat"
)

// PushMessage is one frame received from a push channel
type PushMessage struct {
	Kind   PushMessageKind
	Update models.ScoreUpdate
}

// PushChannel is a live push subscription for one event
type PushChannel interface {
	// Recv blocks until the next frame arrives, the channel fails, or Close is called
	Recv(ctx context.Context) (PushMessage, error)

	// Close releases the subscription; calling it more than once is a no-op
	Close() error
}
