// Package pkg provides shared utilities for the mscvcp composite device.
//
// This package contains common functionality used by the controller
// abstraction, the class functions and the storage backends, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for protocol and storage errors
//   - Component identifiers for log filtering
//   - Numeric storage error codes for interoperation with firmware tooling
//
// # Logging
//
// The logging subsystem wraps [log/slog] with per-subsystem context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentBOT, "CBW accepted", "tag", tag)
//
// # Errors
//
// Common errors are defined as sentinel values and wrapped with context by
// the packages that return them:
//
//	if errors.Is(err, pkg.ErrNotReady) {
//	    // removable medium is absent
//	}
package pkg
