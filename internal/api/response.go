package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the 400 itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), "could not parse JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fe.Field() + " failed " + fe.Tag() + "=" + fe.Param()
	}
	return fe.Field() + " failed " + fe.Tag()
}

func statusFor(reason appointment.Reason) int {
	switch reason {
	case appointment.ReasonValidation:
		return http.StatusBadRequest
	case appointment.ReasonOutsideAvailability, appointment.ReasonPastDateTime:
		return http.StatusUnprocessableEntity
	case appointment.ReasonSlotTaken, appointment.ReasonInvalidTransition:
		return http.StatusConflict
	case appointment.ReasonNotFound:
		return http.StatusNotFound
	case appointment.ReasonAccessDenied:
		return http.StatusForbidden
	case appointment.ReasonUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleServiceError maps engine errors onto the rejection envelope.
func handleServiceError(w http.ResponseWriter, err error) {
	reason, ok := appointment.ReasonOf(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if reason == appointment.ReasonUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, statusFor(reason), string(reason), err.Error())
}
