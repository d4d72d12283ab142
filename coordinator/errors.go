package coordinator

import "errors"

// Error taxonomy for the coordinator's public operations (spec.md §7).
// These are sentinel-comparable via errors.Is, not a class hierarchy.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrUpstream        = errors.New("upstream rejected request")
)
