package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"lendledger/internal/platform/config"
)

// New は mode に応じたフォーマッタで logrus を初期化する。
// release は JSON（集約基盤向け）、dev はテキスト。
func New(mode, level string) *logrus.Logger {
	return newLogger(os.Stderr, mode, level)
}

func newLogger(out io.Writer, mode, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if mode == config.ModeRelease {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	logger.SetLevel(lv)
	return logger
}

// Discard はテスト用
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
