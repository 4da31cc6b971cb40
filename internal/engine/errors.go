package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gofiber/fiber/v2"

	"optcond-backend/internal/conditions"
	"optcond-backend/internal/logger"
	"optcond-backend/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

// ValidationDetails flattens a field-keyed error map into details ordered by
// field, then rule.
func ValidationDetails(verr conditions.ValidationErrors) []ErrorDetail {
	var details []ErrorDetail
	for field, rules := range verr {
		for rule, msg := range rules {
			details = append(details, ErrorDetail{Field: field, Rule: rule, Message: msg})
		}
	}
	sort.Slice(details, func(i, j int) bool {
		if details[i].Field != details[j].Field {
			return details[i].Field < details[j].Field
		}
		return details[i].Rule < details[j].Rule
	})
	return details
}

// MapError turns store and validation errors into an *AppError. Other errors
// are returned unchanged.
func MapError(err error, entity, id string) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if verr, ok := conditions.AsValidationErrors(err); ok {
		return ValidationError(ValidationDetails(verr))
	}
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError(entity, id)
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return ConflictError("A record with this value already exists")
	}
	return err
}

// ErrorHandler renders an *AppError as its JSON envelope and anything else as
// a logged 500.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{
				Error: &AppError{Code: "HTTP_ERROR", Message: fiberErr.Message},
			})
		}

		log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: &AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}
