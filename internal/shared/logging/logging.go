package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup builds the process logger. Unknown levels fall back to info.
func Setup(level, format string) *logrus.Logger {
	return newLogger(os.Stdout, level, format)
}

func newLogger(out io.Writer, level, format string) *logrus.Logger {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	var formatter logrus.Formatter = &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyLevel: "loglevel",
		},
	}
	if format == "text" {
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	}

	return &logrus.Logger{
		Formatter: formatter,
		Hooks:     make(logrus.LevelHooks),
		Out:       out,
		Level:     lvl,
		ExitFunc:  os.Exit,
	}
}
