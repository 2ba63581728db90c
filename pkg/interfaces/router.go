package interfaces

import (
	"context"

	"promanchat/pkg/types"
)

// FrameDispatcher handles decoded inbound frames for a joined session.
// Frames from one session are dispatched sequentially, in receive order.
type FrameDispatcher interface {
	Dispatch(ctx context.Context, conn Connection, frame types.Frame) error
}

// Broadcaster fans an outbound event out to every session of a room.
// Sessions whose user id equals excludeUserID are skipped; an empty value
// excludes nobody. It returns the number of sessions the event was
// enqueued to on this instance.
type Broadcaster interface {
	Broadcast(ctx context.Context, roomID string, event any, excludeUserID string) (int, error)
}
