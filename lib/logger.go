package lib

import "testing"

type Logger interface {
	Print(a ...any)
	Println(a ...any)
	Printf(format string, a ...any)
}

type NoLog struct{}

func (l *NoLog) Print(a ...any)                 {}
func (l *NoLog) Println(a ...any)               {}
func (l *NoLog) Printf(format string, a ...any) {}

// PrefixLogger tags every line with a fixed context string, typically
// "user@server" or the mailbox under watch.
type PrefixLogger struct {
	log    Logger
	prefix string
}

func NewPrefixLogger(log Logger, prefix string) *PrefixLogger {
	return &PrefixLogger{log: log, prefix: prefix}
}

func (l *PrefixLogger) Print(a ...any) {
	l.log.Print(append([]any{l.prefix + ":"}, a...)...)
}

func (l *PrefixLogger) Println(a ...any) {
	l.Print(a...)
}

func (l *PrefixLogger) Printf(format string, a ...any) {
	l.log.Printf(l.prefix+": "+format, a...)
}

type TestLogger struct {
	t      *testing.T
	prefix string
}

func NewTestLogger(t *testing.T, prefix string) *TestLogger {
	return &TestLogger{
		t:      t,
		prefix: prefix,
	}
}

func (l *TestLogger) Print(a ...any) {
	if l.prefix == "" {
		l.t.Log(a...)
	} else {
		l.t.Log(append([]any{l.prefix + ":"}, a...)...)
	}
}

func (l *TestLogger) Println(a ...any) {
	l.Print(a...)
}

func (l *TestLogger) Printf(format string, a ...any) {
	if l.prefix != "" {
		format = l.prefix + ": " + format
	}
	l.t.Logf(format, a...)
}
