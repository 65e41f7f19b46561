package pipeline

import (
	"io"
	"log"
)

// The pipeline writes to three streams:
//
//	ops    sink failures and early stops
//	diag   each anomaly raised and the end-of-run totals
//	trace  one line per frame with detection, track and anomaly counts
var streams struct {
	ops, diag, trace *log.Logger
}

// SetLogWriters routes the ops, diag and trace streams. A nil writer
// silences its stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	streams.ops = streamLogger(ops)
	streams.diag = streamLogger(diag)
	streams.trace = streamLogger(trace)
}

func streamLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[motionwatch] ", log.LstdFlags|log.Lmicroseconds)
}

func logTo(l *log.Logger, format string, args []interface{}) {
	if l != nil {
		l.Printf(format, args...)
	}
}

func opsf(format string, args ...interface{})   { logTo(streams.ops, format, args) }
func diagf(format string, args ...interface{})  { logTo(streams.diag, format, args) }
func tracef(format string, args ...interface{}) { logTo(streams.trace, format, args) }
