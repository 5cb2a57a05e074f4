package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"outreach/models"
	"outreach/repository"
	"outreach/utils"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"omitempty,max=100"`
	Timezone string `json:"timezone" validate:"omitempty,timezone"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AccountCredentialsRequest struct {
	Username string `json:"username" validate:"required,max=200"`
	Password string `json:"password" validate:"required,max=200"`
}

type PreferencesRequest struct {
	NotifyByEmail *bool   `json:"notify_by_email"`
	Timezone      *string `json:"timezone" validate:"omitempty,timezone"`
}

type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

type AuthController struct {
	DB          *gorm.DB
	secret      string
	ttl         time.Duration
	credentials *repository.CredentialRepository
}

func NewAuthController(db *gorm.DB, secret string, ttl time.Duration, credentials *repository.CredentialRepository) *AuthController {
	return &AuthController{DB: db, secret: secret, ttl: ttl, credentials: credentials}
}

func (ac *AuthController) issue(c *fiber.Ctx, status int, user *models.User) error {
	token, err := utils.GenerateAccessToken(ac.secret, user, ac.ttl)
	if err != nil {
		utils.LogError("token_generation", err, map[string]interface{}{"user_id": user.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate token", nil)
	}

	expiresAt := time.Now().Add(ac.ttl)
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    token,
		Expires:  expiresAt,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	user.Sanitize()
	return c.Status(status).JSON(utils.SuccessResponse(AuthResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User:        user,
	}))
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.User
	if err := ac.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Email already registered", nil)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to hash password", nil)
	}

	user := models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		IsActive:     true,
		Timezone:     req.Timezone,
	}
	if req.Name != "" {
		user.Name = &req.Name
	}
	if user.Timezone == "" {
		user.Timezone = "UTC"
	}

	if err := ac.DB.Create(&user).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create user", nil)
	}

	utils.LogEvent("user_registered", map[string]interface{}{"user_id": user.ID})
	return ac.issue(c, fiber.StatusCreated, &user)
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var user models.User
	if err := ac.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid credentials", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid credentials", nil)
	}

	if !user.IsActive {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Account is not active", nil)
	}

	return ac.issue(c, fiber.StatusOK, &user)
}

// Logout invalidates every token issued so far by bumping the token version
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	if err := ac.DB.Model(&models.User{}).Where("id = ?", user.ID).
		Update("token_version", gorm.Expr("token_version + 1")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to logout", nil)
	}

	c.ClearCookie("access_token")
	return c.JSON(fiber.Map{"success": true, "message": "Logged out"})
}

func (ac *AuthController) GetCurrentUser(c *fiber.Ctx) error {
	user := *c.Locals("user").(*models.User)
	hasAccount := user.AccountUsername != "" && user.AccountPassword != ""
	user.Sanitize()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"user":               &user,
		"account_configured": hasAccount,
	}))
}

// SetAccountCredentials stores the outreach account the engine acts as
func (ac *AuthController) SetAccountCredentials(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req AccountCredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if err := ac.credentials.SetCredentials(c.UserContext(), user.ID, req.Username, req.Password); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "User not found", nil)
		}
		utils.LogError("set_account_credentials", err, map[string]interface{}{"user_id": user.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store credentials", nil)
	}

	utils.LogEvent("account_credentials_updated", map[string]interface{}{"user_id": user.ID})
	return c.SendStatus(fiber.StatusNoContent)
}

func (ac *AuthController) UpdatePreferences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req PreferencesRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	updates := map[string]interface{}{}
	if req.NotifyByEmail != nil {
		updates["notify_by_email"] = *req.NotifyByEmail
	}
	if req.Timezone != nil {
		updates["timezone"] = *req.Timezone
	}
	if len(updates) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Nothing to update", nil)
	}

	if err := ac.DB.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update preferences", nil)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
