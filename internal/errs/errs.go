package errs

import (
	"errors"
	"strings"
)

// Доменные сентинель-ошибки для маппинга в HTTP коды и websocket error-события.
var (
	ErrClassroomNotFound = errors.New("classroom not found")
	ErrClassroomEnded    = errors.New("classroom session has ended")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotAMember        = errors.New("rejoin required: not a member of this classroom")
	ErrNotOwner          = errors.New("only the classroom owner can do this")
	ErrDuplicate         = errors.New("record already exists")
)

// FieldError describes a problem with one request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned for missing or malformed request input. Never retried.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func NewValidationError(msg string, fields ...FieldError) error {
	return &ValidationError{Message: msg, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

// StorageError wraps a persistence failure. Callers get a 5xx; hub state is untouched.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError unless it is nil or already a domain sentinel.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomain(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// TransportError wraps a network failure on the client side (websocket or HTTP).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsMembership reports whether the caller has to re-join before retrying.
func IsMembership(err error) bool {
	return errors.Is(err, ErrNotAMember)
}

func IsStorage(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}

func isDomain(err error) bool {
	for _, s := range []error{ErrClassroomNotFound, ErrClassroomEnded, ErrSessionNotFound, ErrNotAMember, ErrNotOwner, ErrDuplicate} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
