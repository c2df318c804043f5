package cmdconfig

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the process logger. With a file configured, output
// goes to a rotated file and the returned closer releases it.
func NewLogger(config LogConfig) (*logrus.Logger, io.Closer, error) {
	config.Defaults()
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	if config.File == "" {
		logger.Out = os.Stdout
		return logger, nopCloser{}, nil
	}
	out := &lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		LocalTime:  true,
	}
	logger.Out = out
	return logger, out, nil
}
