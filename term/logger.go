package term

// Log routes a component's debug logging through the leveled terminal
// printer. It satisfies the lib.Logger interface.
type Log struct{}

func (l *Log) Print(a ...any) {
	Debug(a...)
}

func (l *Log) Println(a ...any) {
	Debug(a...)
}

func (l *Log) Printf(format string, a ...any) {
	Debugf(format, a...)
}
