package outfit

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrNoSourceImage        = errors.New("no source image selected")
	ErrNoOutfits            = errors.New("no outfits could be generated")
	ErrOutfitNotFound       = errors.New("outfit not found")
	ErrGenerationInProgress = errors.New("outfit generation already in progress")
	ErrEmptyImage           = errors.New("image service returned no image")
	ErrFileTooLarge         = errors.New("file too large")
	ErrUnsupportedImage     = errors.New("unsupported image")
)

// EditError is a failed edit, scoped to the outfit's category. Its message is
// safe to show to the user.
type EditError struct {
	Category Category
	Err      error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("Failed to edit the %s outfit. Please try again.", e.Category)
}

func (e *EditError) Unwrap() error {
	return e.Err
}
