package errors

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Category groups codes by what went wrong.
type Category string

const (
	CategoryMisuse    Category = "misuse"
	CategoryLifecycle Category = "lifecycle"
	CategoryConfig    Category = "config"
	CategoryCLI       Category = "cli"
)

// Location is a borrow site in user code.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

func (l *Location) String() string {
	if l == nil {
		return ""
	}
	return l.File + ":" + strconv.Itoa(l.Line)
}

// ParseLocation parses a "file:line" site as produced by runtime.Caller.
// It returns nil for anything else.
func ParseLocation(site string) *Location {
	i := strings.LastIndexByte(site, ':')
	if i <= 0 {
		return nil
	}
	line, err := strconv.Atoi(site[i+1:])
	if err != nil || line <= 0 {
		return nil
	}
	return &Location{File: site[:i], Line: line}
}

// GristError is a coded error. Misuse panics in package grist carry one,
// as do configuration and command failures in the CLI.
type GristError struct {
	Code     string
	Category Category
	Message  string
	Detail   string

	// Location is where the conflicting borrow was taken, when tracked.
	Location *Location

	// Source holds the lines around Location, starting at SourceStart.
	Source      []string
	SourceStart int

	Suggestion string

	// Subject names the value involved, e.g. `Obj[int] "score"`.
	Subject string

	Wrapped error
}

// Error renders the error on one line:
//
//	G006: Value already borrowed (Obj[int] "score"), last borrowed at panel.go:12
func (e *GristError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Subject != "" {
		b.WriteString(" (" + e.Subject + ")")
	}
	if e.Location != nil {
		b.WriteString(", last borrowed at " + e.Location.String())
	}
	if e.Wrapped != nil {
		b.WriteString(": " + e.Wrapped.Error())
	}
	return b.String()
}

func (e *GristError) Unwrap() error {
	return e.Wrapped
}

// Is matches another GristError with the same code, so callers can write
// errors.Is(err, errors.New(CodeDeadUpgrade)).
func (e *GristError) Is(target error) bool {
	t, ok := target.(*GristError)
	return ok && t.Code != "" && t.Code == e.Code
}

// WithLocation records the borrow site and, if the file is readable, the
// source lines around it.
func (e *GristError) WithLocation(file string, line int) *GristError {
	e.Location = &Location{File: file, Line: line}
	e.SourceStart, e.Source = sourceAround(file, line, 2)
	return e
}

// WithSite is WithLocation for a "file:line" string. Empty or malformed
// sites leave the error unchanged.
func (e *GristError) WithSite(site string) *GristError {
	if loc := ParseLocation(site); loc != nil {
		return e.WithLocation(loc.File, loc.Line)
	}
	return e
}

func (e *GristError) WithSubject(s string) *GristError {
	e.Subject = s
	return e
}

func (e *GristError) WithSuggestion(s string) *GristError {
	e.Suggestion = s
	return e
}

func (e *GristError) WithDetail(d string) *GristError {
	e.Detail = d
	return e
}

func (e *GristError) Wrap(err error) *GristError {
	e.Wrapped = err
	return e
}

// sourceAround returns up to radius lines either side of line, and the
// number of the first returned line.
func sourceAround(file string, line, radius int) (int, []string) {
	f, err := os.Open(file)
	if err != nil {
		return 0, nil
	}
	defer f.Close()

	first := max(line-radius, 1)
	last := line + radius

	var lines []string
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan() && n <= last; n++ {
		if n >= first {
			lines = append(lines, sc.Text())
		}
	}
	if len(lines) == 0 {
		return 0, nil
	}
	return first, lines
}

// New returns a fresh error for a registered code. Unknown codes produce
// an error with the message "Unknown error".
func New(code string) *GristError {
	t, ok := registry[code]
	if !ok {
		return &GristError{Code: code, Message: "Unknown error"}
	}
	return &GristError{
		Code:       code,
		Category:   t.Category,
		Message:    t.Message,
		Detail:     t.Detail,
		Suggestion: t.Suggestion,
	}
}
