package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

type ErrorDetail struct {
	Path    string // api_host
	Code    string // missing_required | empty_required | type_mismatch | conflicting_values | validation_error
	Message string // Human text
	Pos     ErrorPosition
	Raw     string // original message
}

func (d ErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", d.Code),
		slog.String("path", d.Path),
		slog.String("message", d.Message),
		slog.String("file", d.Pos.Filename),
		slog.Int("line", d.Pos.Line),
		slog.Int("column", d.Pos.Column),
	)
}

type ErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reOutOfBound  = regexp.MustCompile(`(?i)out of bound !=""`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*|mismatched types`)
)

// ErrorDetails returns the validation details of an InvalidConfigurationError
// or nil for any other error.
func ErrorDetails(err error) []ErrorDetail {
	ice, ok := err.(*InvalidConfigurationError)
	if !ok {
		return nil
	}
	return ice.Details
}

func humanize(err error) []ErrorDetail {
	if err == nil {
		return nil
	}

	type seenKey struct {
		path string
		code string
	}
	seen := make(map[seenKey]struct{})

	var out []ErrorDetail
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := normalizePath(e.Path())
		code, msg := classify(raw, path)

		key := seenKey{path: path, code: code}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, ErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     position(e),
			Raw:     raw,
		})
	}
	return out
}

func position(err cueerrors.Error) ErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return ErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	var zero ErrorPosition
	return zero
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Remove leading definition (#Job)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	switch {
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("field %s is required", path)
	case reOutOfBound.MatchString(raw):
		return "empty_required", fmt.Sprintf("field %s must be non-empty", path)
	case reConflict.MatchString(raw), reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("field %s has wrong type/value", path)
	default:
		return "validation_error", raw
	}
}
