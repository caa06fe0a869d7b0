// services/sse_match_events.go
package services

import (
	"bufio"
	"fmt"
	"log"
	"time"

	"fight-arena/models"

	"github.com/gofiber/fiber/v2"
)

// StreamMatchEventsSSE streams a match's outbox events, oldest first. Events
// only ever carry resolved information, so the stream is public.
func (s *MatchService) StreamMatchEventsSSE(c *fiber.Ctx) error {
	m, err := s.loadMatch(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	matchID := m.ID

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		cursor := int64(-1)

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			var events []models.MatchEvent
			if err := s.DB.
				Where("match_id = ? AND seq > ?", matchID, cursor).
				Order("seq ASC").
				Find(&events).Error; err != nil {
				log.Printf("[SSE] query error for match %s: %v", matchID, err)
			}

			finished := false
			for _, ev := range events {
				cursor = ev.Seq
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, ev.Payload)
				if ev.Type == models.EventMatchComplete {
					finished = true
				}
			}
			if len(events) > 0 {
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}
			}
			if finished {
				return
			}

			select {
			case <-ticker.C:
			case <-c.Context().Done():
				return
			}
		}
	})

	return nil
}
