package location

import "fmt"

// ErrorKind classifies why a stage could not produce a fix.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota + 1
	ProviderDisabled
	StageTimeout
	NoTelephonyData
	NetworkUnavailable
	DecodeFailure
	SecurityDenied
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "PermissionDenied"
	case ProviderDisabled:
		return "ProviderDisabled"
	case StageTimeout:
		return "StageTimeout"
	case NoTelephonyData:
		return "NoTelephonyData"
	case NetworkUnavailable:
		return "NetworkUnavailable"
	case DecodeFailure:
		return "DecodeFailure"
	case SecurityDenied:
		return "SecurityDenied"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a classified stage failure.
type Error struct {
	Kind  ErrorKind
	Stage StageID
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
