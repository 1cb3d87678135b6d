// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hlog is the logging facade shared by every hagent package. It
// stays a thin wrapper around the standard library's log.Logger rather
// than pulling in a structured-logging framework: every call site that
// matters (Migration's periodic summaries, Tracker's switch decisions) is
// off the interrupt-context hot path, so there is nothing a heavier
// backend would buy that a format string doesn't already give us.
package hlog

import (
	stdlog "log"
)

// Logger is the minimal levelled-logging interface every component logs
// through.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
}

type logger struct {
	*stdlog.Logger
}

const prefix = "hagent "

// L is the package-wide logger instance. It discards everything until
// SetOutput is called.
var L Logger = &logger{}
var debugEnabled bool

// SetOutput directs all future log output through l.
func SetOutput(l *stdlog.Logger) {
	L = &logger{Logger: l}
}

// SetDebug toggles whether Debugf messages are emitted.
func SetDebug(debug bool) {
	debugEnabled = debug
}

func (l *logger) Debugf(format string, v ...interface{}) {
	if l.Logger != nil && debugEnabled {
		l.Logger.Printf("DEBUG: "+prefix+format, v...)
	}
}

func (l *logger) Infof(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf("INFO: "+prefix+format, v...)
	}
}

func (l *logger) Warnf(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf("WARN: "+prefix+format, v...)
	}
}

func (l *logger) Errorf(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf("ERROR: "+prefix+format, v...)
	}
}

func (l *logger) Fatalf(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Fatalf(prefix+format, v...)
	}
}
