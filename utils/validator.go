package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"outreach/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := models.ParseClock(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, err := models.ParseWeekday(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("steptype", func(fl validator.FieldLevel) bool {
		return models.StepType(fl.Field().String()).Valid()
	})
	return v
}

func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	// Format validation errors
	var messages []string
	for _, err := range validationErrors {
		field := strings.ToLower(err.Field())
		tag := err.Tag()
		param := err.Param()

		switch tag {
		case "required":
			messages = append(messages, field+" is required")
		case "min":
			messages = append(messages, field+" must be at least "+param)
		case "max":
			messages = append(messages, field+" must be at most "+param)
		case "gt":
			messages = append(messages, field+" must be greater than "+param)
		case "gte":
			messages = append(messages, field+" must be greater than or equal to "+param)
		case "clock":
			messages = append(messages, field+" must be a time of day in HH:MM format")
		case "weekday":
			messages = append(messages, field+" must be a weekday name")
		case "steptype":
			messages = append(messages, field+" must be one of connection, message, profile_view")
		default:
			messages = append(messages, field+" is invalid")
		}
	}

	return errors.New(strings.Join(messages, ", "))
}
