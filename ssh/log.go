package ssh

import "github.com/sirupsen/logrus"

// nopLogger is used when a Config carries no logger, so every log call
// site can stay unconditional instead of nil-checking.
func nopLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(logrusDiscard{})
	return logrus.NewEntry(l)
}

type logrusDiscard struct{}

func (logrusDiscard) Write(p []byte) (int, error) { return len(p), nil }
