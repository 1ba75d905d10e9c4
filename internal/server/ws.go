package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/tasks"
)

// StreamHandler pushes task progress events over a websocket. Clients
// connect with a task id and receive every event until the terminal one.
type StreamHandler struct {
	Tasks *tasks.Manager

	upgrader websocket.Upgrader
	logger   *log.Logger
}

func (h *StreamHandler) Register(g *echo.Group) {
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	h.logger = log.New(log.Writer(), "[WS] ", log.LstdFlags)
	g.GET("/ingest/:id", h.stream)
}

func (h *StreamHandler) stream(c echo.Context) error {
	id := c.Param("id")
	snap, ok := h.Tasks.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown task")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	opening := tasks.Event{
		Type:     tasks.EventSnapshot,
		TaskID:   id,
		Time:     time.Now(),
		Snapshot: snap,
	}
	if err := conn.WriteJSON(opening); err != nil {
		return nil
	}
	if snap.State.Terminal() {
		// Late subscriber: the task already finished, but its queue may
		// still hold the terminal event. Deliver what is left once.
		h.drain(conn, id)
		return nil
	}

	for {
		ev, ok := h.Tasks.NextEvent(id, 250*time.Millisecond)
		if !ok {
			// No event within the window. Check whether the task is
			// still around and still running before waiting again.
			current, exists := h.Tasks.Get(id)
			if !exists {
				return nil
			}
			if current.State.Terminal() {
				// The terminal event may have been pushed right after
				// the timeout fired; drain so it is not dropped.
				h.drain(conn, id)
				return nil
			}
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Printf("task %s: client gone: %v", id, err)
			return nil
		}
		if ev.Type.Terminal() {
			return nil
		}
	}
}

// drain forwards already-queued events without waiting, stopping at the
// terminal event, an empty queue or a dead client.
func (h *StreamHandler) drain(conn *websocket.Conn, id string) {
	for {
		ev, ok := h.Tasks.NextEvent(id, 0)
		if !ok {
			return
		}
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Printf("task %s: client gone: %v", id, err)
			return
		}
		if ev.Type.Terminal() {
			return
		}
	}
}
