package wire

// Status is the outcome code of a response.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusInvalidRequest indicates a malformed request or payload.
	StatusInvalidRequest Status = 1

	// StatusUnknownSubscriber indicates a subscriber handle that does not
	// belong to the connection.
	StatusUnknownSubscriber Status = 2

	// StatusUnsupported indicates an operation the broker does not handle.
	StatusUnsupported Status = 3

	// StatusInvalidKey indicates a change set naming keys the connection
	// does not provide.
	StatusInvalidKey Status = 4

	// StatusClosed indicates the subscriber or broker is shutting down.
	StatusClosed Status = 5

	// StatusInternalError indicates an unexpected broker failure.
	StatusInternalError Status = 6
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusUnknownSubscriber:
		return "UNKNOWN_SUBSCRIBER"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusInvalidKey:
		return "INVALID_KEY"
	case StatusClosed:
		return "CLOSED"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}
