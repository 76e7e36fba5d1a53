package msgbus

import "fmt"

const (
	AlreadySubscribedError = iota

	NotSubscribedError

	ServerError

	ConnectionClosedError

	ConnectionLostError

	InvalidEndpointError

	MissingTokenError

	ProtocolError

	TransportError

	UnknownError
)

// Sentinel errors for errors.Is comparisons. Matching is by code, so any
// *Error with the same code satisfies errors.Is regardless of its message.
var (
	ErrAlreadySubscribed = NewError(AlreadySubscribedError)
	ErrNotSubscribed     = NewError(NotSubscribedError)
	ErrConnectionClosed  = NewError(ConnectionClosedError)
	ErrConnectionLost    = NewError(ConnectionLostError)
	ErrMissingEndpoint   = NewError(InvalidEndpointError, "no endpoint to connect")
	ErrMissingToken      = NewError(MissingTokenError, "no token specified")
)

// Error is the typed error returned by Bus operations.
type Error struct {
	Code    int
	Kind    string
	Message string
}

func errorName(code int) string {
	switch code {
	case AlreadySubscribedError:
		return "AlreadySubscribedError"
	case NotSubscribedError:
		return "NotSubscribedError"
	case ServerError:
		return "ServerError"
	case ConnectionClosedError:
		return "ConnectionClosedError"
	case ConnectionLostError:
		return "ConnectionLostError"
	case InvalidEndpointError:
		return "InvalidEndpointError"
	case MissingTokenError:
		return "MissingTokenError"
	case ProtocolError:
		return "ProtocolError"
	case TransportError:
		return "TransportError"
	default:
		return "UnknownError"
	}
}

func (err *Error) Error() string {
	if err.Message == "" {
		return errorName(err.Code)
	}
	return errorName(err.Code) + ": " + err.Message
}

// Is reports whether target carries the same error code.
func (err *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Code == err.Code
}

// NewError builds an *Error for errorCode. The first optional message argument
// is formatted with %v.
func NewError(errorCode int, message ...interface{}) error {
	if errorCode < AlreadySubscribedError || errorCode > UnknownError {
		errorCode = UnknownError
	}
	err := &Error{Code: errorCode}
	if len(message) > 0 {
		err.Message = fmt.Sprintf("%v", message[0])
	}
	return err
}

func serverError(kind string, message string) error {
	if message == "" {
		message = kind
	}
	return &Error{Code: ServerError, Kind: kind, Message: message}
}
