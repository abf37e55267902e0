// Package logging wires structured logging for every package in this
// module on top of logrus: a package-level *logrus.Logger with an output
// splitter that routes error-level entries to stderr and everything else
// to stdout, plus a ContextLogger builder that backends and the replicator
// use to carry per-call fields (doc_id, seq, rev, replication_id) without
// threading a logger argument through every function.
package logging

import (
	"bytes"
	"os"
)

// OutputSplitter routes formatted log lines to stderr or stdout depending on
// their level, so container log collectors can treat the two streams
// differently without a log-shipping agent that understands logrus levels.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance, built with the default level and
// format. Backends that are constructed without an explicit *logrus.Logger
// (most tests, small tools) fall back to this one; callers wanting a
// different level or format replace it with NewLogger's result.
var Logger = NewLogger(DefaultLoggerConfig())
