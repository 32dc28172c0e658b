// Package log holds the root logrus logger and helpers that tag entries
// with a session UPID, a writer id, or a device path. cmd/pbs-serverd uses
// it and hands ForSession entries to backup.Environment; the worker and
// tape/scsi packages do not log through it.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Base is the root logger; package-level fields should be attached with
// WithFields rather than mutating Base itself.
var Base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// ForSession returns a logger tagged with the session's UPID, for use by a
// single backup.Environment.
func ForSession(upid string) *logrus.Entry {
	return Base.WithField("upid", upid)
}

// ForWriter tags a session logger with the writer id it's reporting on.
func ForWriter(entry *logrus.Entry, writerID uint64) *logrus.Entry {
	return entry.WithField("wid", writerID)
}

// ForDevice returns a logger tagged with the tape device path.
func ForDevice(path string) *logrus.Entry {
	return Base.WithField("device", path)
}
