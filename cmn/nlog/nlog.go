// Package nlog provides a small process-wide logging facade over zap so that
// the rest of the daemon never imports a logging library directly.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package nlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.Mutex
	log *zap.SugaredLogger
)

// Init (re)configures the process-wide logger. Calling it again replaces the
// current logger without syncing it; Flush is what drains buffered entries.
func Init(level string, jsonOutput bool) {
	mu.Lock()
	defer mu.Unlock()

	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	cfg := zap.NewProductionConfig()
	if !jsonOutput {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// logging must never be the reason the daemon fails to start
		l = zap.NewNop()
	}
	log = l.Sugar()
}

func init() {
	Init("info", false)
}

// Flush drains any buffered log entries; call during shutdown.
func Flush() {
	mu.Lock()
	l := log
	mu.Unlock()
	if l != nil {
		_ = l.Sync()
	}
}

func Infof(f string, a ...interface{})     { get().Infof(f, a...) }
func Warningf(f string, a ...interface{})  { get().Warnf(f, a...) }
func Errorf(f string, a ...interface{})    { get().Errorf(f, a...) }
func Criticalf(f string, a ...interface{}) { get().Errorf("CRITICAL: "+f, a...) }

// Fatalf logs at error level and exits the process; reserved for conditions
// from which the daemon cannot recover (e.g. topology probe failure at boot).
func Fatalf(f string, a ...interface{}) {
	get().Errorf(f, a...)
	Flush()
	os.Exit(1)
}

func get() *zap.SugaredLogger {
	mu.Lock()
	l := log
	mu.Unlock()
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
