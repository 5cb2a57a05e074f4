package controller

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"outreach/models"
	"outreach/utils"
)

type ProspectController struct {
	DB *gorm.DB
}

func NewProspectController(db *gorm.DB) *ProspectController {
	return &ProspectController{DB: db}
}

type ProspectInput struct {
	ProfileURL string `json:"profile_url" validate:"required,url,max=500"`
	FirstName  string `json:"first_name" validate:"omitempty,max=100"`
	LastName   string `json:"last_name" validate:"omitempty,max=100"`
	Headline   string `json:"headline" validate:"omitempty,max=300"`
	Company    string `json:"company" validate:"omitempty,max=200"`
	Location   string `json:"location" validate:"omitempty,max=200"`
}

type ProspectUpdateInput struct {
	FirstName      *string `json:"first_name" validate:"omitempty,max=100"`
	LastName       *string `json:"last_name" validate:"omitempty,max=100"`
	Headline       *string `json:"headline" validate:"omitempty,max=300"`
	Company        *string `json:"company" validate:"omitempty,max=200"`
	Location       *string `json:"location" validate:"omitempty,max=200"`
	IsDoNotContact *bool   `json:"is_do_not_contact"`
}

// CreateProspect adds a prospect; profile URLs are unique per user
func (pc *ProspectController) CreateProspect(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input ProspectInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	profileURL := strings.TrimRight(strings.TrimSpace(input.ProfileURL), "/")

	var existing models.Prospect
	if err := pc.DB.Where("profile_url = ? AND user_id = ?", profileURL, user.ID).First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Prospect with this profile already exists", nil)
	}

	prospect := models.Prospect{
		UserID:     user.ID,
		ProfileURL: profileURL,
		FirstName:  input.FirstName,
		LastName:   input.LastName,
		Headline:   input.Headline,
		Company:    input.Company,
		Location:   input.Location,
	}
	if err := pc.DB.Create(&prospect).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create prospect", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(prospect))
}

// GetProspects returns a paginated list, optionally filtered by ?search=
func (pc *ProspectController) GetProspects(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := pc.DB.Model(&models.Prospect{}).Where("user_id = ?", user.ID)
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(company) LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count prospects", err)
	}

	var prospects []models.Prospect
	if err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&prospects).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch prospects", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    prospects,
		"meta": fiber.Map{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

func (pc *ProspectController) find(c *fiber.Ctx) (*models.Prospect, error) {
	user := c.Locals("user").(*models.User)
	var prospect models.Prospect
	err := pc.DB.Where("id = ? AND user_id = ?", utils.ParseUint(c.Params("id")), user.ID).First(&prospect).Error
	return &prospect, err
}

func (pc *ProspectController) GetProspect(c *fiber.Ctx) error {
	prospect, err := pc.find(c)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Prospect not found", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch prospect", err)
	}
	return c.JSON(utils.SuccessResponse(prospect))
}

// UpdateProspect edits profile fields; setting is_do_not_contact stops new sequences for the prospect
func (pc *ProspectController) UpdateProspect(c *fiber.Ctx) error {
	prospect, err := pc.find(c)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Prospect not found", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch prospect", err)
	}

	var input ProspectUpdateInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	updates := map[string]interface{}{}
	if input.FirstName != nil {
		updates["first_name"] = *input.FirstName
	}
	if input.LastName != nil {
		updates["last_name"] = *input.LastName
	}
	if input.Headline != nil {
		updates["headline"] = *input.Headline
	}
	if input.Company != nil {
		updates["company"] = *input.Company
	}
	if input.Location != nil {
		updates["location"] = *input.Location
	}
	if input.IsDoNotContact != nil {
		updates["is_do_not_contact"] = *input.IsDoNotContact
	}

	if len(updates) > 0 {
		if err := pc.DB.Model(prospect).Updates(updates).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update prospect", err)
		}
	}
	return c.JSON(utils.SuccessResponse(prospect))
}

// DeleteProspect refuses while the prospect still has sequences
func (pc *ProspectController) DeleteProspect(c *fiber.Ctx) error {
	prospect, err := pc.find(c)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Prospect not found", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch prospect", err)
	}

	var sequences int64
	if err := pc.DB.Model(&models.Sequence{}).Where("prospect_id = ?", prospect.ID).Count(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check sequences", err)
	}
	if sequences > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Prospect still has sequences", nil)
	}

	if err := pc.DB.Delete(prospect).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete prospect", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
