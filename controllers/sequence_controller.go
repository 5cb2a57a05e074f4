package controller

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"outreach/automation"
	"outreach/models"
	"outreach/services"
	"outreach/utils"
)

type SequenceController struct {
	service *services.SequenceService
	logger  *logrus.Entry
}

func NewSequenceController(service *services.SequenceService) *SequenceController {
	return &SequenceController{
		service: service,
		logger:  utils.Component("sequence_controller"),
	}
}

// sequenceError maps service errors onto HTTP statuses
func (sc *SequenceController) sequenceError(c *fiber.Ctx, err error) error {
	var cfgErr *automation.ConfigError
	switch {
	case errors.Is(err, services.ErrSequenceNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	case errors.Is(err, services.ErrProspectNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Prospect not found", nil)
	case errors.Is(err, services.ErrProspectOptedOut):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Prospect is marked do-not-contact", nil)
	case errors.Is(err, services.ErrSequenceLocked):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Sequence cannot be modified in its current status", err)
	case errors.Is(err, models.ErrInvalidTransition):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Status change not allowed", err)
	case errors.Is(err, services.ErrValidation):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	case errors.As(err, &cfgErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid sequence configuration",
			"field":   cfgErr.Field,
			"details": cfgErr.Err.Error(),
		})
	}

	sc.logger.WithError(err).WithField("path", c.Path()).Error("Sequence request failed")
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Internal server error", nil)
}

func sequenceID(c *fiber.Ctx) (uint, bool) {
	id := utils.ParseUint(c.Params("id"))
	return id, id != 0
}

// CreateSequence stores a new draft sequence
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input services.CreateSequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	seq, err := sc.service.Create(c.UserContext(), user.ID, input)
	if err != nil {
		return sc.sequenceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(seq))
}

// GetSequences returns a page of the user's sequences
func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	sequences, total, err := sc.service.List(c.UserContext(), user.ID, services.ListSequencesInput{
		ProspectID: utils.ParseUint(c.Query("prospect_id")),
		Status:     c.Query("status"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return sc.sequenceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    sequences,
		"meta": fiber.Map{
			"total":  total,
			"limit":  limit,
			"offset": offset,
		},
	})
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id, ok := sequenceID(c)
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", nil)
	}

	seq, err := sc.service.Get(c.UserContext(), user.ID, id)
	if err != nil {
		return sc.sequenceError(c, err)
	}
	return c.JSON(utils.SuccessResponse(seq))
}

// UpdateSequence edits name, settings or step templates of a draft or paused sequence
func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id, ok := sequenceID(c)
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", nil)
	}

	var input services.UpdateSequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	seq, err := sc.service.Update(c.UserContext(), user.ID, id, input)
	if err != nil {
		return sc.sequenceError(c, err)
	}
	return c.JSON(utils.SuccessResponse(seq))
}

func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id, ok := sequenceID(c)
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", nil)
	}

	if err := sc.service.Delete(c.UserContext(), user.ID, id); err != nil {
		return sc.sequenceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (sc *SequenceController) StartSequence(c *fiber.Ctx) error {
	return sc.transition(c, sc.service.Start)
}

func (sc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	return sc.transition(c, sc.service.Pause)
}

func (sc *SequenceController) ResumeSequence(c *fiber.Ctx) error {
	return sc.transition(c, sc.service.Resume)
}

type transitionFunc func(ctx context.Context, userID, id uint) (*models.Sequence, error)

func (sc *SequenceController) transition(c *fiber.Ctx, fn transitionFunc) error {
	user := c.Locals("user").(*models.User)
	id, ok := sequenceID(c)
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", nil)
	}

	seq, err := fn(c.UserContext(), user.ID, id)
	if err != nil {
		return sc.sequenceError(c, err)
	}
	return c.JSON(utils.SuccessResponse(seq))
}
