// Package obslog wraps logrus with the structured fields every core
// component needs to attach (job ID, namespace, component), following the
// ambient logging convention this codebase's pack siblings use (structured
// logrus entries carried through call chains rather than the stdlib log
// package's unstructured strings).
package obslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBaseLogger()

func newBaseLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// New returns a logrus.Entry scoped to one import job, pre-populated with
// a jobId field so every log line from that job's pipeline can be
// correlated.
func New(jobID string) *logrus.Entry {
	return base.WithField("jobId", jobID)
}

// WithComponent returns a derived entry tagging a pipeline stage (fetch,
// decode, write, checkpoint, ...) for log filtering.
func WithComponent(entry *logrus.Entry, component string) *logrus.Entry {
	return entry.WithField("component", component)
}

// SetLevel adjusts the package-wide log level (e.g. to logrus.DebugLevel
// for verbose diagnostics); it affects every entry derived via New.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}
