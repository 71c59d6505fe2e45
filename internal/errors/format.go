package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
	ansiGray  = "\033[90m"
	ansiBold  = "\033[1m"
)

var colors = true

// DisableColors turns off ANSI escapes in Format and PrintError.
func DisableColors() { colors = false }

// EnableColors turns ANSI escapes back on.
func EnableColors() { colors = true }

func paint(code, s string) string {
	if !colors {
		return s
	}
	return code + s + ansiReset
}

// Format renders the error for a terminal:
//
//	error[G001]: Re-entrant lock on the same goroutine
//	  --> ui/panel.go:4
//	   |
//	 4 |     g := p.model.Write()
//	   |
//	  = value: Obj[int] "score"
//	  = A goroutine that holds ...
//	  = hint: Release the first guard ...
func (e *GristError) Format() string {
	var b strings.Builder

	head := "error"
	if e.Code != "" {
		head += "[" + e.Code + "]"
	}
	fmt.Fprintf(&b, "%s: %s\n", paint(ansiRed+ansiBold, head), paint(ansiBold, e.Message))

	if e.Location != nil {
		fmt.Fprintf(&b, "  %s %s\n", paint(ansiCyan, "-->"), e.Location)
		if len(e.Source) > 0 {
			width := len(fmt.Sprint(e.SourceStart + len(e.Source) - 1))
			gutter := strings.Repeat(" ", width)
			fmt.Fprintf(&b, " %s %s\n", gutter, paint(ansiCyan, "|"))
			for i, line := range e.Source {
				n := e.SourceStart + i
				num := fmt.Sprintf("%*d", width, n)
				if n == e.Location.Line {
					fmt.Fprintf(&b, " %s %s %s\n", paint(ansiRed, num), paint(ansiCyan, "|"), line)
				} else {
					fmt.Fprintf(&b, " %s %s %s\n", paint(ansiGray, num), paint(ansiCyan, "|"), paint(ansiGray, line))
				}
			}
			fmt.Fprintf(&b, " %s %s\n", gutter, paint(ansiCyan, "|"))
		}
	}

	note := func(label, text string) {
		if text == "" {
			return
		}
		if label != "" {
			text = label + ": " + text
		}
		fmt.Fprintf(&b, "  %s %s\n", paint(ansiCyan, "="), text)
	}
	note("value", e.Subject)
	note("", e.Detail)
	if e.Wrapped != nil {
		note("cause", e.Wrapped.Error())
	}
	note(paint(ansiCyan, "hint"), e.Suggestion)

	return b.String()
}

type jsonError struct {
	Code       string    `json:"code,omitempty"`
	Category   Category  `json:"category,omitempty"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Location   *Location `json:"location,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Cause      string    `json:"cause,omitempty"`
}

// MarshalJSON encodes the error for machine-readable CLI output.
func (e *GristError) MarshalJSON() ([]byte, error) {
	j := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Subject:    e.Subject,
		Location:   e.Location,
		Suggestion: e.Suggestion,
	}
	if e.Wrapped != nil {
		j.Cause = e.Wrapped.Error()
	}
	return json.Marshal(j)
}

// PrintError writes err to stderr, using Format for a *GristError.
func PrintError(err error) {
	fprintError(os.Stderr, err)
}

func fprintError(w io.Writer, err error) {
	if ge, ok := err.(*GristError); ok {
		fmt.Fprint(w, ge.Format())
		return
	}
	fmt.Fprintf(w, "%s: %s\n", paint(ansiRed+ansiBold, "error"), err)
}
