package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beatbound/beatbound/backend/internal/broadcast"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const feedEventVoteDelta = "vote-delta"

// BroadcastSource hands out per-challenge vote delta streams.
type BroadcastSource interface {
	Subscribe(ctx context.Context, challengeID string) (<-chan broadcast.VoteDelta, func())
}

type connectedPayload struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challengeId"`
}

// handleFeed serves one long-lived SSE connection forwarding a challenge's
// vote deltas. The subscription is released when the client disconnects; the
// request context drives cleanup so abnormal closes cannot leak handles.
func (h *httpHandler) handleFeed(c *gin.Context) {
	challengeID := strings.TrimSpace(c.Param("id"))
	if challengeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "challenge_id_required"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	stream, cleanup := h.broadcast.Subscribe(c.Request.Context(), challengeID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	if err := writeFeedEvent(c.Writer, "connected", connectedPayload{Type: "connected", ChallengeID: challengeID}); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case delta, open := <-stream:
			if !open {
				return
			}
			if err := writeFeedEvent(c.Writer, feedEventVoteDelta, delta); err != nil {
				h.logger.Debug("feed write failed, closing stream",
					zap.String("challenge_id", challengeID),
					zap.Error(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeFeedEvent(w http.ResponseWriter, eventType string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, encoded)
	return err
}
