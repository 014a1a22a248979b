package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/waypoint/internal/backbone"
	"github.com/samcharles93/waypoint/internal/keypoint"
	"github.com/samcharles93/waypoint/internal/layout"
	"github.com/samcharles93/waypoint/internal/planner"
	"github.com/samcharles93/waypoint/internal/scenario"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// statusFor maps a planning error to an HTTP status and error type.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, scenario.ErrInvalidScenario),
		errors.Is(err, planner.ErrBadBatch),
		errors.Is(err, backbone.ErrSequenceTooLong),
		errors.Is(err, backbone.ErrBadInputs),
		errors.Is(err, layout.ErrInvalidRecipe),
		errors.Is(err, layout.ErrShapeMismatch),
		errors.Is(err, keypoint.ErrInvalidSlots):
		return http.StatusBadRequest, "invalid_request_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
