package instance

// invalidRequestError signals a missing or malformed required field (400).
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// ErrInvalidRequest constructs an invalidRequestError.
func ErrInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

// IsInvalidRequest reports whether err indicates a bad request payload.
func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}

// notFoundError signals an operation on an unknown instance id (404).
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "instance not found: " + e.id }

// ErrInstanceNotFound constructs a notFoundError for the given id.
func ErrInstanceNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates a missing instance id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// resourceExhaustedError signals that no port is free in the configured range.
type resourceExhaustedError struct{ msg string }

func (e resourceExhaustedError) Error() string { return e.msg }

// ErrResourceExhausted constructs a resourceExhaustedError.
func ErrResourceExhausted(msg string) error { return resourceExhaustedError{msg: msg} }

// IsResourceExhausted reports whether err indicates port exhaustion.
func IsResourceExhausted(err error) bool {
	_, ok := err.(resourceExhaustedError)
	return ok
}

// upstreamUnavailableError signals a launch, health-check or proxied-call
// failure so the HTTP layer can return 503 instead of 500.
type upstreamUnavailableError struct{ msg string }

func (e upstreamUnavailableError) Error() string { return e.msg }

// ErrUpstreamUnavailable constructs an upstreamUnavailableError.
func ErrUpstreamUnavailable(msg string) error { return upstreamUnavailableError{msg: msg} }

// IsUpstreamUnavailable reports whether err indicates a failed or unreachable worker.
func IsUpstreamUnavailable(err error) bool {
	_, ok := err.(upstreamUnavailableError)
	return ok
}
