package core

import (
	"errors"
	"fmt"
)

// Business errors. Handlers map these onto the HTTP taxonomy:
// 400 / 401 / 403 / 404 / 409.
var (
	// Device errors.
	ErrDeviceNotFound   = errors.New("device not found")
	ErrSerialNumberUsed = errors.New("serial number already registered")

	// Related-entity errors.
	ErrParkingNotFound = errors.New("parking not found")
	ErrSpotNotFound    = errors.New("parking spot not found")

	// Cross-reference errors.
	ErrSpotNotInParking = errors.New("parking spot does not belong to the device parking")

	// Authentication errors.
	ErrUnauthenticated = errors.New("authentication required")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// AccessDeniedError reports an authorization failure. It always names
// the resource that was denied so callers can respond explicitly
// instead of throwing a generic error.
type AccessDeniedError struct {
	Resource string
	ID       string
}

func (e AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied to %s %s", e.Resource, e.ID)
}

// IsAccessDenied reports whether err is an authorization failure.
func IsAccessDenied(err error) bool {
	var denied AccessDeniedError
	return errors.As(err, &denied)
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var invalid ValidationError
	return errors.As(err, &invalid)
}
