package identity

import "time"

// linearBackOff waits attempt*unit after each failed attempt.
type linearBackOff struct {
	unit    time.Duration
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * l.unit
}

func (l *linearBackOff) Reset() { l.attempt = 0 }
