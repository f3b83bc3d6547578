// Copyright 2024 The Cockroach Authors
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

package hmapmetrics

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/cockroachdb/hmap"
)

// Logger is an hmap.Observer that logs resizes at debug level, pathological
// chains at warn level and allocation failures at error level.
type Logger struct {
	logger log.Logger
}

var _ hmap.Observer = (*Logger)(nil)

// NewLogger returns a Logger writing to logger. The keyvals are added to
// every line, typically to name the map.
func NewLogger(logger log.Logger, keyvals ...interface{}) *Logger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Logger{logger: log.With(logger, keyvals...)}
}

func (l *Logger) Resized(reason hmap.ResizeReason, oldMask, newMask uint64) {
	level.Debug(l.logger).Log(
		"msg", "resized hash map",
		"reason", reason.String(),
		"old_buckets", oldMask+1,
		"new_buckets", newMask+1)
}

func (l *Logger) ResizeFailed(reason hmap.ResizeReason, err error) {
	level.Error(l.logger).Log("msg", "hash map resize failed", "reason", reason.String(), "err", err)
}

func (l *Logger) Pathological(bucket uint64, length int) {
	level.Warn(l.logger).Log("msg", "long hash chain", "bucket", bucket, "length", length)
}

type tee []hmap.Observer

// Tee returns an hmap.Observer that forwards every event to each of the
// observers in turn. Nil observers are skipped.
func Tee(observers ...hmap.Observer) hmap.Observer {
	var t tee
	for _, o := range observers {
		if o != nil {
			t = append(t, o)
		}
	}
	return t
}

func (t tee) Resized(reason hmap.ResizeReason, oldMask, newMask uint64) {
	for _, o := range t {
		o.Resized(reason, oldMask, newMask)
	}
}

func (t tee) ResizeFailed(reason hmap.ResizeReason, err error) {
	for _, o := range t {
		o.ResizeFailed(reason, err)
	}
}

func (t tee) Pathological(bucket uint64, length int) {
	for _, o := range t {
		o.Pathological(bucket, length)
	}
}
