package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Rrens/agent-bridge/internal/api/response"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"
)

const maxBodyBytes = 32 << 20

var validate = validator.New()

// decode reads a JSON body into v and validates it. On failure the 400
// response is already written.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		response.BadRequest(w, validationMessages(err))
		return false
	}
	return true
}

func validationMessages(err error) any {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			messages[field] = "field is required"
		case "max":
			messages[field] = "must be at most " + e.Param() + " characters"
		case "base64":
			messages[field] = "must be base64 encoded"
		case "oneof":
			messages[field] = "must be one of " + e.Param()
		default:
			messages[field] = "validation failed on " + e.Tag()
		}
	}
	return messages
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrToolCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a service error onto the error envelope. Internal errors
// are logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		response.InternalError(w, "internal server error")
		return
	}
	switch status {
	case http.StatusConflict:
		response.Conflict(w, err.Error())
	case http.StatusNotFound:
		response.NotFound(w, err.Error())
	default:
		response.Error(w, status, err.Error())
	}
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidInput}, args...)...)
}
