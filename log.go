// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"os"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// defaultLogger lazily builds the package-wide fallback logger: a kratos
// std-logger over stderr, filtered to error level.
var (
	defaultLoggerOnce sync.Once
	defaultLoggerVal  log.Logger
)

func defaultLogger() log.Logger {
	defaultLoggerOnce.Do(func() {
		defaultLoggerVal = log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError))
	})
	return defaultLoggerVal
}

// Bool returns a pointer to b, for use with WriterOptions.Solid.
func Bool(b bool) *bool {
	return &b
}
