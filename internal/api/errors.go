package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"atrium-backend/internal/query"
	"atrium-backend/internal/rules"
	"atrium-backend/internal/store"
)

type AppError struct {
	Code    string            `json:"code"`
	Status  int               `json:"-"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
	Details []rules.Violation `json:"details,omitempty"`
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

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func ValidationError(details []rules.Violation) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

// mapError translates domain errors into client-facing AppErrors. Anything
// unmapped stays an internal error.
func mapError(err error) *AppError {
	if query.IsClientError(err) {
		var qerr *query.Error
		errors.As(err, &qerr)
		return &AppError{
			Code:    string(qerr.Code),
			Status:  400,
			Message: qerr.Message,
			Field:   qerr.Field,
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &AppError{Code: "NOT_FOUND", Status: 404, Message: "record not found"}
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return ConflictError("a record with this value already exists")
	}
	if errors.Is(err, store.ErrUnknownField) {
		return &AppError{Code: "UNKNOWN_FIELD", Status: 400, Message: err.Error()}
	}
	return nil
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}

// ErrorHandler is the fiber app's terminal error handler: AppErrors and
// fiber errors keep their status, everything else becomes a 500 without
// leaking internals.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return respondError(c, appErr)
	}
	if mapped := mapError(err); mapped != nil {
		return respondError(c, mapped)
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return respondError(c, &AppError{
			Code:    "HTTP_ERROR",
			Status:  fiberErr.Code,
			Message: fiberErr.Message,
		})
	}
	return respondError(c, &AppError{
		Code:    "INTERNAL",
		Status:  500,
		Message: "internal server error",
	})
}
