package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"promanchat/internal/metrics"
	"promanchat/pkg/interfaces"
)

// RoomSnapshotter returns the sessions currently joined to a room.
type RoomSnapshotter interface {
	Snapshot(roomID string) []interfaces.Connection
}

// Relay carries encoded events between server instances. Subscribe must be
// listening by the time it returns and stops when ctx is canceled.
type Relay interface {
	Publish(ctx context.Context, roomID string, payload []byte, excludeUserID string) error
	Subscribe(ctx context.Context, deliver func(roomID string, payload []byte, excludeUserID string) int) error
}

// Hub fans encoded events out to every session of a room.
// ARCHITECTURAL DISCOVERY: no hub goroutine sits on the delivery path; the
// registry snapshot plus non-blocking TrySend keeps broadcasts lock-free
// with respect to slow sockets.
type Hub struct {
	rooms  RoomSnapshotter
	relay  Relay
	logger zerolog.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
}

// NewHub creates a hub. A nil relay keeps delivery local to this process.
func NewHub(rooms RoomSnapshotter, relay Relay, logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  rooms,
		relay:  relay,
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Start subscribes to the relay, if any.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}

	if h.relay != nil {
		subCtx, cancel := context.WithCancel(ctx)
		if err := h.relay.Subscribe(subCtx, h.Deliver); err != nil {
			cancel()
			return fmt.Errorf("subscribe relay: %w", err)
		}
		h.cancel = cancel
	}
	h.running = true
	h.logger.Info().Bool("relay", h.relay != nil).Msg("hub started")
	return nil
}

func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.logger.Info().Msg("hub stopped")
	return nil
}

func (h *Hub) relayActive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running && h.relay != nil
}

// Broadcast encodes event once and enqueues it to every session in roomID
// whose user id differs from excludeUserID. An empty excludeUserID includes
// everyone. It returns the number of local sessions the frame was enqueued
// to; when the relay carries the event the count is 0 because delivery
// happens on the subscription.
func (h *Hub) Broadcast(ctx context.Context, roomID string, event any, excludeUserID string) (int, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncodeEvent, err)
	}

	if h.relayActive() {
		err := h.relay.Publish(ctx, roomID, payload, excludeUserID)
		if err == nil {
			return 0, nil
		}
		metrics.RelayPublishFailures.Inc()
		h.logger.Warn().Err(err).Str("room", roomID).Msg("relay publish failed, delivering locally")
	}
	return h.Deliver(roomID, payload, excludeUserID), nil
}

// Deliver enqueues an already encoded frame to the local sessions of roomID.
// Full or closed sessions are skipped.
func (h *Hub) Deliver(roomID string, payload []byte, excludeUserID string) int {
	delivered, dropped := 0, 0
	for _, conn := range h.rooms.Snapshot(roomID) {
		if excludeUserID != "" && conn.UserID() == excludeUserID {
			continue
		}
		if conn.TrySend(payload) {
			delivered++
		} else {
			dropped++
		}
	}

	metrics.FanoutDeliveries.Add(float64(delivered))
	if dropped > 0 {
		metrics.FanoutDropped.Add(float64(dropped))
		h.logger.Debug().Str("room", roomID).Int("dropped", dropped).Msg("frames dropped for slow sessions")
	}
	return delivered
}
