/*
Copyright 2025 The visiontrain Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging configures the process-wide structured logger.
//
// All packages log through a logr.Logger backed by zap. The root logger is
// set up once at startup (or by NewTestLogger in test suites) and retrieved
// with FromContext or the package-level Log handle.
package logging

import (
	"context"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels used with logr's V(). INFO is the default; DEBUG and
// TRACE are enabled by raising the configured log level.
const (
	INFO  = 0
	DEBUG = 1
	TRACE = 2
)

// Log is the root logger. It discards everything until Setup or
// NewTestLogger is called.
var Log logr.Logger = logr.Discard()

type contextKey struct{}

// Setup builds the root logger at the given level ("info", "debug", "trace")
// and installs it as the package-level Log. Returns the logger for callers
// that want to thread it explicitly.
func Setup(level string) logr.Logger {
	// zapr maps logr V(n) to zap level -n, so enabling verbosity means
	// lowering the zap level below zero.
	zapLevel := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.Level(-DEBUG)
	case "trace":
		zapLevel = zapcore.Level(-TRACE)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), zapLevel)
	Log = zapr.NewLogger(zap.New(core))
	return Log
}

// NewTestLogger installs a development-mode logger that writes to stderr at
// debug level. Used by test suites so log output shows up on failure.
func NewTestLogger() logr.Logger {
	zl, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	Log = zapr.NewLogger(zl)
	return Log
}

// IntoContext stores the logger in the context.
func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves the logger from the context, falling back to the
// package-level root logger.
func FromContext(ctx context.Context) logr.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(contextKey{}).(logr.Logger); ok {
			return logger
		}
	}
	return Log
}
