// Package logger provides the structured logger used across the storage
// adapter.
//
// It wraps go.uber.org/zap with a small, stable surface (Debug, Info, Warn,
// Error with zap fields) and an Fx module for applications that assemble the
// adapter through dependency injection. The adapter itself only ever receives
// a *Logger handle; there is no package-level logger.
package logger
