// services/match_handlers.go
package services

import (
	"log"

	"fight-arena/middleware"

	"github.com/gofiber/fiber/v2"
)

func respondError(c *fiber.Ctx, err error) error {
	status, body := ErrorResponse(err)
	if status >= fiber.StatusInternalServerError {
		log.Printf("❌ [Match] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(body)
}

// callerIdentity fills in fighter id/credentials from the X-Fighter-* headers
// when the body omitted them.
func callerIdentity(c *fiber.Ctx, fighterID, credentials string) (string, string) {
	headerID, headerKey := middleware.FighterFromCtx(c)
	if fighterID == "" {
		fighterID = headerID
	}
	if credentials == "" {
		credentials = headerKey
	}
	return fighterID, credentials
}

// POST /matches/:id/commit
func (s *MatchService) CommitHandler(c *fiber.Ctx) error {
	var req CommitRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, &ValidationError{Hint: "invalid JSON body"})
	}
	req.MatchID = c.Params("id")
	req.FighterID, req.Credentials = callerIdentity(c, req.FighterID, req.Credentials)

	res, err := s.SubmitCommitment(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// POST /matches/:id/reveal
func (s *MatchService) RevealHandler(c *fiber.Ctx) error {
	var req RevealRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, &ValidationError{Hint: "invalid JSON body"})
	}
	req.MatchID = c.Params("id")
	req.FighterID, req.Credentials = callerIdentity(c, req.FighterID, req.Credentials)

	res, err := s.SubmitReveal(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// GET /matches/:id/status
func (s *MatchService) StatusHandler(c *fiber.Ctx) error {
	fighterID, key := callerIdentity(c, "", "")
	view, err := s.GetStatus(c.UserContext(), c.Params("id"), fighterID, key)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}

// GET /matches/:id/history
func (s *MatchService) HistoryHandler(c *fiber.Ctx) error {
	turns, err := s.GetHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"match_id": c.Params("id"),
		"count":    len(turns),
		"turns":    turns,
	})
}

// POST /admin/matches
func (s *MatchService) CreateMatchHandler(c *fiber.Ctx) error {
	var req CreateMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, &ValidationError{Hint: "invalid JSON body"})
	}
	m, err := s.CreateMatch(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

// POST /admin/matches/:id/start
func (s *MatchService) StartMatchHandler(c *fiber.Ctx) error {
	m, err := s.StartMatch(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(m)
}

// POST /admin/matches/:id/complete
func (s *MatchService) CompleteMatchHandler(c *fiber.Ctx) error {
	var body struct {
		WinnerID string `json:"winner_id"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return respondError(c, &ValidationError{Hint: "invalid JSON body"})
		}
	}
	m, err := s.Completion.Complete(c.UserContext(), c.Params("id"), body.WinnerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"match_id":  m.ID,
		"winner_id": m.WinnerID,
		"settled":   true,
	})
}

// POST /admin/monitor/sweep
func (mon *Monitor) SweepHandler(c *fiber.Ctx) error {
	report, err := mon.Sweep(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}
