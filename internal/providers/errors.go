package providers

import "errors"

var (
	// ErrProviderNotFound is returned when a provider ID is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrInvalidProvider is returned when a provider record fails validation
	ErrInvalidProvider = errors.New("invalid provider")
)
