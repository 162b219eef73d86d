package analysis

import (
	"errors"
	"net/http"

	"freshrecipe/internal/recipe"
)

var (
	// ErrNoImage is returned when Analyze is called without image bytes.
	ErrNoImage = errors.New("no image provided")
	// ErrInvalidImage is returned for uploads that are not a usable image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrEndpoint wraps every failure of the completion call.
	ErrEndpoint = errors.New("completion endpoint failed")
	// ErrSuperseded is returned when a newer analysis started before this one
	// finished. Nothing is persisted for a superseded analysis.
	ErrSuperseded = errors.New("analysis superseded by a newer request")
)

// NotFoodError reports that the image was classified as not food. It is a
// terminal outcome rather than a fault.
type NotFoodError struct {
	Message string
}

func (e *NotFoodError) Error() string {
	return "image does not contain food: " + e.Message
}

// Class groups errors by how they are reported to the user.
type Class string

const (
	ClassValidation Class = "validation"
	ClassEndpoint   Class = "endpoint"
	ClassExtraction Class = "extraction"
	ClassNotFood    Class = "not_food"
	ClassSuperseded Class = "superseded"
	ClassInternal   Class = "internal"
)

// Classify maps an error returned by Service to its class and HTTP status.
func Classify(err error) (Class, int) {
	var notFood *NotFoodError
	switch {
	case errors.As(err, &notFood):
		return ClassNotFood, http.StatusUnprocessableEntity
	case errors.Is(err, ErrSuperseded):
		return ClassSuperseded, http.StatusConflict
	case errors.Is(err, ErrNoImage), errors.Is(err, ErrInvalidImage):
		return ClassValidation, http.StatusBadRequest
	case errors.Is(err, ErrEndpoint):
		return ClassEndpoint, http.StatusBadGateway
	case errors.Is(err, recipe.ErrEmptyResponse), errors.Is(err, recipe.ErrMissingRequiredFields):
		return ClassExtraction, http.StatusUnprocessableEntity
	default:
		return ClassInternal, http.StatusInternalServerError
	}
}
