package errors

import "sort"

// ErrorTemplate is the fixed text behind a code.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// Codes raised by package grist.
const (
	CodeReentrantLock   = "G001"
	CodeReleaseUnderUse = "G002"
	CodeHandleReleased  = "G003"
	CodeGuardReleased   = "G004"
	CodeDeadUpgrade     = "G005"
	CodeAlreadyBorrowed = "G006"
	CodeDropMismatch    = "G007"
)

// Codes raised by the CLI and its configuration.
const (
	CodeInvalidConfig    = "G100"
	CodeConfigUnreadable = "G101"
	CodeUnknownProfile   = "G102"
	CodeBenchMismatch    = "G120"
	CodeServeFailed      = "G121"
)

var registry = map[string]ErrorTemplate{
	// Misuse (G001-G009)
	CodeReentrantLock: {
		Category:   CategoryMisuse,
		Message:    "Re-entrant lock on the same goroutine",
		Detail:     "The calling goroutine already holds a guard on this value and asked for a lock that conflicts with it. Waiting would deadlock forever.",
		Suggestion: "Release the first guard before locking again, or use TryRead/TryWrite on paths that may run while a guard is held.",
	},
	CodeReleaseUnderUse: {
		Category:   CategoryMisuse,
		Message:    "Last handle released while a guard is outstanding",
		Detail:     "The value stays alive until the guard is released, but the handle that produced the guard no longer owns it.",
		Suggestion: "Release guards before releasing the handle they came from.",
	},
	CodeHandleReleased: {
		Category:   CategoryLifecycle,
		Message:    "Handle used after Release",
		Detail:     "A strong handle was used after its Release method was called. Each handle may be released exactly once.",
		Suggestion: "Clone the handle before handing it to code that releases it.",
	},
	CodeGuardReleased: {
		Category:   CategoryLifecycle,
		Message:    "Guard used after Release",
		Detail:     "A guard grants access only until it is released. The value may already be locked by someone else.",
		Suggestion: "Keep all value access inside the guard's scope.",
	},
	CodeDeadUpgrade: {
		Category:   CategoryMisuse,
		Message:    "Weak handle upgraded after the value was dropped",
		Detail:     "MustUpgrade requires at least one live strong handle.",
		Suggestion: "Use Upgrade and handle ErrDead when the value may be gone.",
	},
	CodeAlreadyBorrowed: {
		Category:   CategoryMisuse,
		Message:    "Value already borrowed",
		Detail:     "MustRead/MustWrite never wait. Another guard holds a conflicting lock.",
		Suggestion: "Use Read/Write to wait, or TryRead/TryWrite to handle contention.",
	},
	CodeDropMismatch: {
		Category:   CategoryMisuse,
		Message:    "Drop hook type does not match the value type",
		Detail:     "WithDrop was given a function whose parameter type cannot hold the Obj's value.",
		Suggestion: "Pass a func taking the same type as the value given to New.",
	},

	// Config (G100-G119)
	CodeInvalidConfig: {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "grist.json or a command-line flag contains an invalid value.",
	},
	CodeConfigUnreadable: {
		Category: CategoryConfig,
		Message:  "Config file not readable",
		Detail:   "The configuration file exists but could not be read or parsed.",
	},
	CodeUnknownProfile: {
		Category: CategoryConfig,
		Message:  "Unknown bench profile",
		Detail:   "The requested bench profile is not built in and not defined in grist.json.",
	},

	// CLI (G120-G139)
	CodeBenchMismatch: {
		Category: CategoryCLI,
		Message:  "Bench result mismatch",
		Detail:   "The final value or version did not equal the number of completed writes.",
	},
	CodeServeFailed: {
		Category: CategoryCLI,
		Message:  "Server failed",
		Detail:   "The inspection server stopped with an error.",
	},
}

// Codes returns every registered code in ascending order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template registered for code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
