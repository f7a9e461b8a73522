package controller

import (
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"leadpilot/store"
	"leadpilot/utils"
)

type ActivityController struct {
	Store  store.Store
	Logger *log.Logger
}

func NewActivityController(s store.Store, logger *log.Logger) *ActivityController {
	return &ActivityController{Store: s, Logger: logger}
}

// GetActivityFeed returns the time-ordered feed, newest first. Aggregated
// rows resurface at the top when they absorb a new event.
func (ac *ActivityController) GetActivityFeed(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit > 200 {
		limit = 200
	}

	events, err := ac.Store.ListActivities(c.Context(), limit, (page-1)*limit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load activity feed", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    events,
		"page":    page,
		"limit":   limit,
	})
}
