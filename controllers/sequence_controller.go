package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"leadpilot/models"
	"leadpilot/sequence"
	"leadpilot/store"
	"leadpilot/utils"
)

type SequenceController struct {
	Store      store.Store
	Engine     *sequence.Engine
	Processor  *sequence.Processor
	Classifier sequence.Classifier
	Logger     *log.Logger
}

func NewSequenceController(s store.Store, engine *sequence.Engine, processor *sequence.Processor, classifier sequence.Classifier, logger *log.Logger) *SequenceController {
	return &SequenceController{
		Store:      s,
		Engine:     engine,
		Processor:  processor,
		Classifier: classifier,
		Logger:     logger,
	}
}

// RunSequences is the scheduler-facing batch trigger. A completed run is
// always a 200, even with per-item errors; 500 means the run could not
// start at all.
func (sc *SequenceController) RunSequences(c *fiber.Ctx) error {
	result, err := sc.Processor.Run(c.Context())
	if err != nil {
		if errors.Is(err, sequence.ErrRunInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "A sequence run is already in progress",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Sequence run could not start",
			"details": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Sequence run completed",
		"results": result,
	})
}

// EnrollLead creates an active enrollment, optionally starting past step 1
// when the first touch was sent by hand.
func (sc *SequenceController) EnrollLead(c *fiber.Ctx) error {
	var input struct {
		LeadID     uint `json:"lead_id" validate:"required"`
		SequenceID uint `json:"sequence_id" validate:"required"`
		StartStep  int  `json:"start_step" validate:"omitempty,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	enrollment, err := sc.Engine.Enroll(c.Context(), input.LeadID, input.SequenceID, input.StartStep)
	if err != nil {
		switch {
		case errors.Is(err, sequence.ErrAlreadyEnrolled):
			return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is already enrolled in this sequence", nil)
		case errors.Is(err, sequence.ErrSequenceInactive):
			return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Sequence is not accepting enrollments", nil)
		case errors.Is(err, store.ErrNotFound):
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead or sequence not found", nil)
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll lead", err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

// AutoEnrollLead picks a sequence for the lead via the segment classifier.
// An existing active enrollment counts as already handled, not a fault.
func (sc *SequenceController) AutoEnrollLead(c *fiber.Ctx) error {
	var input struct {
		LeadID uint `json:"lead_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	lead, err := sc.Store.GetLead(c.Context(), input.LeadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load lead", err)
	}

	sequenceType, ok := sc.Classifier.Classify(lead)
	if !ok {
		return c.JSON(fiber.Map{
			"success": true,
			"message": "No sequence matches this lead's segment",
		})
	}

	seq, err := sc.Store.GetSequenceByType(c.Context(), sequenceType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "No sequence configured for type "+sequenceType, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sequence", err)
	}

	enrollment, err := sc.Engine.Enroll(c.Context(), lead.ID, seq.ID, 1)
	if err != nil {
		if errors.Is(err, sequence.ErrAlreadyEnrolled) {
			return c.JSON(fiber.Map{
				"success": true,
				"message": "Lead is already enrolled",
			})
		}
		if errors.Is(err, sequence.ErrSequenceInactive) {
			return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Sequence is not accepting enrollments", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll lead", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

// UnenrollLead closes the lead's active enrollment(s). Idempotent.
func (sc *SequenceController) UnenrollLead(c *fiber.Ctx) error {
	var input struct {
		LeadID     uint   `json:"lead_id" validate:"required"`
		SequenceID uint   `json:"sequence_id"`
		Reason     string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	reason := input.Reason
	if reason == "" {
		reason = models.UnenrollReasonManual
	}

	var err error
	if input.SequenceID != 0 {
		err = sc.Engine.Unenroll(c.Context(), input.LeadID, input.SequenceID, reason)
	} else {
		err = sc.Engine.UnenrollAll(c.Context(), input.LeadID, reason)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to unenroll lead", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Lead unenrolled",
	})
}

// CreateSequence registers a new sequence with its ordered steps.
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input struct {
		Name         string `json:"name" validate:"required"`
		Description  string `json:"description"`
		SequenceType string `json:"sequence_type" validate:"required"`
		Active       *bool  `json:"active"`
		Steps        []struct {
			StepNumber int    `json:"step_number"`
			Subject    string `json:"subject" validate:"required"`
			Body       string `json:"body"`
			DelayDays  int    `json:"delay_days" validate:"min=0"`
		} `json:"steps" validate:"required,min=1,dive"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	seq := models.EmailSequence{
		Name:         input.Name,
		Description:  input.Description,
		SequenceType: input.SequenceType,
		Active:       true,
	}
	if input.Active != nil {
		seq.Active = *input.Active
	}
	for i, step := range input.Steps {
		position := step.StepNumber
		if position == 0 {
			position = i + 1
		}
		seq.Steps = append(seq.Steps, models.SequenceStep{
			StepNumber: position,
			Subject:    step.Subject,
			Body:       step.Body,
			DelayDays:  step.DelayDays,
		})
	}

	if err := sc.Store.CreateSequence(c.Context(), &seq); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(seq))
}

// GetSequences lists all sequences with their steps.
func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	seqs, err := sc.Store.ListSequences(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list sequences", err)
	}
	return c.JSON(utils.SuccessResponse(seqs))
}

// GetSequence returns one sequence by id.
func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	seq, err := sc.Store.GetSequence(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sequence", err)
	}
	return c.JSON(utils.SuccessResponse(seq))
}
