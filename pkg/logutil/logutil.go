// Copyright 2026 The InsertDest Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil is a thin, process-global wrapper around
// go.uber.org/zap, in the shape of the teacher's pkg/logutil /
// pkg/logutil/logutil2: a swappable global *zap.Logger plus a handful
// of level helpers that add one caller-skip frame so log sites still
// report the call site, not this package.
package logutil

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var globalLogger atomic.Value // holds *zap.Logger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	globalLogger.Store(logger)
}

// SetGlobalLogger replaces the process-wide logger, e.g. so
// cmd/insertbench can install zap's example logger.
func SetGlobalLogger(logger *zap.Logger) {
	globalLogger.Store(logger)
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() *zap.Logger {
	return globalLogger.Load().(*zap.Logger)
}

func skip1() *zap.Logger {
	return GetGlobalLogger().WithOptions(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) { skip1().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { skip1().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { skip1().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { skip1().Error(msg, fields...) }

// Fatal logs at Fatal level and terminates the process. This is the
// mechanism behind spec.md §7's "process aborts with a diagnostic"
// policy for programming-contract violations, transport failures, and
// block-acquisition failures.
func Fatal(msg string, fields ...zap.Field) { skip1().Fatal(msg, fields...) }
