package web

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AutonomousRequest is the body of POST /api/autonomous.
type AutonomousRequest struct {
	Enabled *bool `json:"enabled"`
}

// SayRequest is the body of POST /api/say.
type SayRequest struct {
	Text string `json:"text"`
}

// handleStatus returns the parrot's current state
func handleStatus(ctl Control) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(ctl.Status())
	}
}

// handleAutonomous toggles autonomous behaviors
func handleAutonomous(ctl Control) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req AutonomousRequest
		if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": `body must be {"enabled": true|false}`,
			})
		}
		ctl.SetAutonomous(*req.Enabled)
		return c.JSON(ctl.Status())
	}
}

// handleSay submits text to the voice session as if the user said it
func handleSay(ctl Control) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req SayRequest
		if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "text is required",
			})
		}

		if err := ctl.Say(c.UserContext(), req.Text); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"success": true,
		})
	}
}
