package proto

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the identify payload's struct tags.
func (p IdentifyPayload) Validate() error {
	return validate.Struct(p)
}

// Validate checks the send payload's struct tags.
func (p SendMessagePayload) Validate() error {
	return validate.Struct(p)
}
