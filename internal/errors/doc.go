// Package errors provides coded errors for grist misuse and CLI failures.
//
// Recoverable conditions (a lock that would block, a weak handle whose value
// is gone) are plain sentinel errors in package grist. This package covers
// programming mistakes that are never silently tolerated, such as a
// goroutine taking a write lock it already holds, plus configuration and
// command failures in cmd/grist.
//
// Codes are grouped by range:
//
//	G001-G009  misuse and lifecycle of handles and guards
//	G100-G119  grist.json and flags
//	G120-G139  commands
//
// A misuse panic prints like this when borrow tracking is on:
//
//	error[G006]: Value already borrowed
//	  --> ui/panel.go:42
//	   |
//	41 |     g := p.model.Read()
//	42 |     defer g.Release()
//	   |
//	  = value: Obj[Model] "panel"
//	  = hint: Use Read/Write to wait, or TryRead/TryWrite to handle contention.
package errors
