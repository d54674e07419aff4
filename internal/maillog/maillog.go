// Package maillog implements a log specifically for outgoing email,
// distinct from the free-form trace log: one greppable line per
// authentication attempt or delivery attempt.
package maillog

import (
	"fmt"
	"io"
	"io/ioutil"
	"log/syslog"
	"sync"
	"time"

	"blitiri.com.ar/go/log"
	"blitiri.com.ar/go/smtpc/internal/trace"
)

// Global event logs.
var (
	authLog = trace.NewEventLog("Authentication", "Outgoing SMTP")
)

// A writer that prepends timing information.
type timedWriter struct {
	w io.Writer
}

// Write the given buffer, prepending timing information.
func (t timedWriter) Write(b []byte) (int, error) {
	fmt.Fprintf(t.w, "%s  ", time.Now().Format("2006-01-02 15:04:05.000000"))
	return t.w.Write(b)
}

// Logger contains a backend used to log data to, such as a file or syslog.
// It implements various user-friendly methods for logging mail information
// to it.
type Logger struct {
	w    io.Writer
	once sync.Once
}

// New creates a new Logger which will write messages to the given writer.
func New(w io.Writer) *Logger {
	return &Logger{w: timedWriter{w}}
}

// NewSyslog creates a new Logger which will write messages to syslog.
func NewSyslog() (*Logger, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_MAIL, "smtpc")
	if err != nil {
		return nil, err
	}

	l := &Logger{w: w}
	return l, nil
}

func (l *Logger) printf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(l.w, format, args...)
	if err != nil {
		l.once.Do(func() {
			log.Errorf("failed to write to maillog: %v", err)
			log.Errorf("(will not report this again)")
		})
	}
}

// Auth logs an AUTH PLAIN/LOGIN attempt made against a remote server.
func (l *Logger) Auth(server string, user string, successful bool) {
	res := "succeeded"
	if !successful {
		res = "failed"
	}
	msg := fmt.Sprintf("%s auth %s for %s\n", server, res, user)
	l.printf(msg)
	authLog.Debugf(msg)
}

// SendAttempt logs a single MAIL/RCPT/DATA attempt made by send_mail
// against one recipient.
func (l *Logger) SendAttempt(id, from, to string, err error, permanent bool) {
	if err == nil {
		l.printf("%s from=%s to=%s sent\n", id, from, to)
	} else {
		t := "(temporary)"
		if permanent {
			t = "(permanent)"
		}
		l.printf("%s from=%s to=%s failed %s: %v\n", id, from, to, t, err)
	}
}

// Default logger, used by the following top-level functions.
var Default = New(ioutil.Discard)

// Auth logs an AUTH PLAIN/LOGIN attempt using the default logger.
func Auth(server string, user string, successful bool) {
	Default.Auth(server, user, successful)
}

// SendAttempt logs a delivery attempt using the default logger.
func SendAttempt(id, from, to string, err error, permanent bool) {
	Default.SendAttempt(id, from, to, err, permanent)
}
