package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes.
const (
	ExitSuccess      = 0 // command succeeded
	ExitFailure      = 1 // verification or execution failure
	ExitCommandError = 2 // bad invocation: missing database, bad flags
)

// ExitError carries an exit code with an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError attaches an exit code to an underlying error.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, defaulting to
// ExitFailure for plain errors.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Formatter renders command results as text or JSON.
type Formatter struct {
	Format string
	Writer io.Writer
}

// Success renders a result. JSON output wraps it in a status envelope;
// text output prints it directly.
func (f *Formatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(map[string]any{
			"status": "ok",
			"data":   data,
		})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Table renders rows of label/value pairs in text mode, or the given
// data as JSON.
func (f *Formatter) Table(data any, rows [][2]string) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	for _, row := range rows {
		fmt.Fprintf(f.Writer, "%-14s %s\n", row[0]+":", row[1])
	}
	return nil
}
