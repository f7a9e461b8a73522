package controller

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"leadpilot/models"
	"leadpilot/sequence"
	"leadpilot/store"
	"leadpilot/utils"
)

// LeadController covers the slice of lead management the sequence engine
// touches: creating a lead, reading it back and moving its lifecycle
// status. Everything else about leads lives in the CRM frontends.
type LeadController struct {
	Store    store.Store
	Activity sequence.ActivitySink
	Logger   *log.Logger
}

func NewLeadController(s store.Store, sink sequence.ActivitySink, logger *log.Logger) *LeadController {
	return &LeadController{Store: s, Activity: sink, Logger: logger}
}

// CreateLead creates a new lead with validation
func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	var input struct {
		Email     string   `json:"email" validate:"required,email"`
		FirstName string   `json:"first_name" validate:"omitempty,max=100"`
		LastName  string   `json:"last_name" validate:"omitempty,max=100"`
		Company   string   `json:"company" validate:"omitempty,max=200"`
		Position  string   `json:"position" validate:"omitempty,max=200"`
		Website   string   `json:"website"`
		Category  string   `json:"category"`
		Tags      []string `json:"tags"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if _, err := lc.Store.FindLeadByEmail(c.Context(), input.Email); err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead with this email already exists", nil)
	}

	lead := models.Lead{
		Email:     strings.ToLower(input.Email),
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Company:   input.Company,
		Position:  input.Position,
		Website:   input.Website,
		Category:  input.Category,
		Status:    models.StatusNew,
	}
	for _, tag := range input.Tags {
		if tag != "" {
			lead.Tags = append(lead.Tags, models.LeadTag{Tag: tag})
		}
	}

	if err := lc.Store.SaveLead(c.Context(), &lead); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", err)
	}

	lc.Activity.Emit(c.Context(), &models.ActivityEvent{
		ActorName:  "System",
		ActionVerb: "created",
		ActionType: "lead",
		EntityType: "lead",
		EntityID:   lead.ID,
		EntityName: lead.Email,
		Priority:   6,
	})

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

// GetLead returns one lead by id.
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	lead, err := lc.Store.GetLead(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load lead", err)
	}
	return c.JSON(utils.SuccessResponse(lead))
}

// UpdateLeadStatus moves the lead's lifecycle status and emits the
// transition to the feed.
func (lc *LeadController) UpdateLeadStatus(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	var input struct {
		Status string `json:"status" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	status := models.LeadStatus(input.Status)
	if !status.IsValid() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown lead status", nil)
	}

	lead, err := lc.Store.GetLead(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load lead", err)
	}

	previous := lead.Status
	if previous == status {
		return c.JSON(utils.SuccessResponse(lead))
	}

	lead.Status = status
	if err := lc.Store.SaveLead(c.Context(), lead); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead", err)
	}

	lc.Activity.Emit(c.Context(), &models.ActivityEvent{
		ActorName:  "System",
		ActionVerb: "status_changed",
		ActionType: "lead",
		EntityType: "lead",
		EntityID:   lead.ID,
		EntityName: lead.Email,
		Priority:   6,
		Metadata: map[string]interface{}{
			"from": string(previous),
			"to":   string(status),
		},
	})

	return c.JSON(utils.SuccessResponse(lead))
}
