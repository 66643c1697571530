package raft

import "github.com/sirupsen/logrus"

// Logger is the minimal structured-logging surface the engine needs. It is
// satisfied by *logrus.Entry, which newDefaultLogger wraps; tests
// and embedders may substitute anything else that implements it (e.g. a
// no-op logger, or one that forwards to an application's own logrus
// instance via WithLogger).
//
// This replaces the teacher's logGeneric(format, args...) helper, which
// built a prefix string ("id=%d term=%d state=%s: ") by hand on every call
// and shipped it to the standard library's log package. Structured fields
// carry the same information without the printf prefix, and let an
// operator filter/aggregate by field instead of parsing text.
type Logger interface {
	WithFields(fields logrus.Fields) *logrus.Entry
}

func newDefaultLogger() Logger {
	l := logrus.New()
	return entryLogger{l.WithField("component", "raft")}
}

type entryLogger struct {
	*logrus.Entry
}

func (e entryLogger) WithFields(fields logrus.Fields) *logrus.Entry {
	return e.Entry.WithFields(fields)
}
