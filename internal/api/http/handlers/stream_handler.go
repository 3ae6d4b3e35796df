package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/broadcast"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

const keepaliveInterval = 30 * time.Second

// StreamHandler exposes the real-time channel as a server-sent event
// stream. Each connection subscribes to the caller's personal room and
// their department room; delivery is best-effort, a dropped event is
// recovered by re-fetching state.
type StreamHandler struct {
	hub *broadcast.Hub
}

// NewStreamHandler constructs handler.
func NewStreamHandler(hub *broadcast.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Stream GET /events/stream.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	analyst, ok := auth.AnalystFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("analyst required")
	}

	session := h.hub.Subscribe(uuid.NewString(),
		broadcast.AnalystRoom(analyst.ID),
		broadcast.DepartmentRoom(analyst.Department),
	)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(session)
		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case event, open := <-session.C:
				if !open {
					return
				}
				raw, err := json.Marshal(event)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, raw)
				if err := w.Flush(); err != nil {
					return
				}
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}
