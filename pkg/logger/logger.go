// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides a process-wide structured logger built on
// log/slog. All gateway components log through this package rather than
// constructing their own slog.Logger so that output format and level stay
// consistent across sandbox, session, and composer code.
package logger

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(logging.New(logging.WithLevel(slog.LevelInfo)))
}

// Initialize configures the singleton logger from the process environment.
func Initialize() {
	InitializeWithEnv(&env.OSReader{})
}

// InitializeWithEnv configures the singleton logger using r to read the
// UNSTRUCTURED_LOGS environment variable, defaulting to unstructured
// (human-readable) output when unset or unparsable.
func InitializeWithEnv(r env.Reader) {
	opts := []logging.Option{logging.WithLevel(slog.LevelInfo)}
	if unstructuredLogsWithEnv(r) {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	} else {
		opts = append(opts, logging.WithFormat(logging.FormatJSON))
	}
	singleton.Store(logging.New(opts...))
}

func unstructuredLogsWithEnv(r env.Reader) bool {
	v := r.Getenv("UNSTRUCTURED_LOGS")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// Get returns the current singleton logger.
func Get() *slog.Logger {
	return singleton.Load()
}

// NewLogr adapts the singleton logger to logr.Logger, for libraries (the
// upstream mcp-go client, oauth2) that expect the logr interface.
func NewLogr() logr.Logger {
	return logr.FromSlogHandler(singleton.Load().Handler())
}

func Debug(msg string)                       { singleton.Load().Debug(msg) }
func Debugf(format string, args ...any)       { singleton.Load().Debug(sprintf(format, args...)) }
func Debugw(msg string, kv ...any)            { singleton.Load().Debug(msg, kv...) }

func Info(msg string)                   { singleton.Load().Info(msg) }
func Infof(format string, args ...any)  { singleton.Load().Info(sprintf(format, args...)) }
func Infow(msg string, kv ...any)       { singleton.Load().Info(msg, kv...) }

func Warn(msg string)                  { singleton.Load().Warn(msg) }
func Warnf(format string, args ...any) { singleton.Load().Warn(sprintf(format, args...)) }
func Warnw(msg string, kv ...any)      { singleton.Load().Warn(msg, kv...) }

func Error(msg string)                  { singleton.Load().Error(msg) }
func Errorf(format string, args ...any) { singleton.Load().Error(sprintf(format, args...)) }
func Errorw(msg string, kv ...any)      { singleton.Load().Error(msg, kv...) }

// DPanic logs at error level in production but is reserved for conditions
// that indicate a programming error. Unlike Panic, it never panics.
func DPanic(msg string)                  { singleton.Load().Error(msg) }
func DPanicf(format string, args ...any) { singleton.Load().Error(sprintf(format, args...)) }
func DPanicw(msg string, kv ...any)      { singleton.Load().Error(msg, kv...) }

// Panic logs at error level then panics with msg. Reserved for invariant
// violations that must halt the current goroutine immediately.
func Panic(msg string) {
	singleton.Load().Error(msg)
	panic(msg)
}

func Panicf(format string, args ...any) {
	msg := sprintf(format, args...)
	singleton.Load().Error(msg)
	panic(msg)
}

func Panicw(msg string, kv ...any) {
	singleton.Load().Error(msg, kv...)
	panic(msg)
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
