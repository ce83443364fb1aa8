// Package errorx provides business-coded errors for the HTTP surface. Each
// code registers a Coder describing its HTTP status and a user-safe message;
// handlers wrap internal errors with a code and core.WriteResponse renders
// them uniformly.
package errorx

import (
	"fmt"
	"net/http"
	"sync"
)

// Coder describes an error code's external presentation.
type Coder interface {
	// Code returns the business error code.
	Code() int
	// HTTPStatus returns the associated HTTP status.
	HTTPStatus() int
	// String returns the user-safe message for this code.
	String() string
	// Reference returns an optional documentation link.
	Reference() string
}

var (
	codesMu sync.Mutex
	codes   = map[int]Coder{}
)

// unknownCoder is returned for errors carrying no registered code.
type unknownCoder struct{}

func (unknownCoder) Code() int         { return 1 }
func (unknownCoder) HTTPStatus() int   { return http.StatusInternalServerError }
func (unknownCoder) String() string    { return "Internal server error" }
func (unknownCoder) Reference() string { return "" }

// Register registers a Coder, replacing any previous registration for the
// same code.
func Register(coder Coder) {
	if coder.Code() == 0 {
		panic("code 0 is reserved")
	}
	codesMu.Lock()
	defer codesMu.Unlock()
	codes[coder.Code()] = coder
}

// MustRegister registers a Coder and panics if the code is already taken.
func MustRegister(coder Coder) {
	if coder.Code() == 0 {
		panic("code 0 is reserved")
	}
	codesMu.Lock()
	defer codesMu.Unlock()
	if _, ok := codes[coder.Code()]; ok {
		panic(fmt.Sprintf("code %d already registered", coder.Code()))
	}
	codes[coder.Code()] = coder
}

// withCode is an error annotated with a business code and an optional cause.
type withCode struct {
	err   error
	code  int
	cause error
}

func (w *withCode) Error() string {
	if w.cause != nil {
		return fmt.Sprintf("%s: %s", w.err.Error(), w.cause.Error())
	}
	return w.err.Error()
}

func (w *withCode) Unwrap() error { return w.cause }

// WithCode creates a new coded error.
func WithCode(code int, format string, args ...interface{}) error {
	return &withCode{
		err:  fmt.Errorf(format, args...),
		code: code,
	}
}

// WrapC wraps err with a business code and a contextual message.
func WrapC(err error, code int, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &withCode{
		err:   fmt.Errorf(format, args...),
		code:  code,
		cause: err,
	}
}

// ParseCoder extracts the Coder from err. Errors without a registered code
// map to the unknown coder.
func ParseCoder(err error) Coder {
	if err == nil {
		return nil
	}
	if w, ok := err.(*withCode); ok { //nolint:errorlint // deliberate: only the outermost code counts
		codesMu.Lock()
		coder, exists := codes[w.code]
		codesMu.Unlock()
		if exists {
			return coder
		}
	}
	return unknownCoder{}
}

// IsCode reports whether err carries the given business code.
func IsCode(err error, code int) bool {
	if w, ok := err.(*withCode); ok { //nolint:errorlint
		return w.code == code
	}
	return false
}
