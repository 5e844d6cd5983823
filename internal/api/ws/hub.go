// Package ws streams evidence status changes and provider health samples to
// browser observers.
package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/timeproof/internal/server/middleware"
	redisstore "github.com/gosuda/timeproof/internal/store/redis"
)

// Subscriber is the pub/sub side the hub reads from.
// *redis.PubSub satisfies this interface.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	pubsub  Subscriber
	origins []string
}

// NewHub creates a new WebSocket hub. origins are host patterns accepted for
// cross-origin upgrades.
func NewHub(pubsub Subscriber, origins []string) *Hub {
	return &Hub{pubsub: pubsub, origins: origins}
}

// ServeEvidence streams the caller's company evidence status changes.
// Subscribes to Redis channel "evidence:<companyID>".
func (h *Hub) ServeEvidence(w http.ResponseWriter, r *http.Request) {
	companyID, ok := middleware.CompanyIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing company", http.StatusBadRequest)
		return
	}
	h.stream(w, r, redisstore.EvidenceChannel(companyID))
}

// ServeHealth streams provider health samples.
// Subscribes to Redis channel "qtsp:health".
func (h *Hub) ServeHealth(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, redisstore.HealthChannel())
}

func (h *Hub) stream(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Observers never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	messages, cleanup, err := h.pubsub.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
