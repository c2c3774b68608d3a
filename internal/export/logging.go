package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// fileHook mirrors log entries into the run directory: everything below
// error level goes to export.log, error level and worse to errors.log.
// The split matches the persisted output contract, which keeps a clean
// error log for operators to grep after large runs.
type fileHook struct {
	mu        sync.Mutex
	log       *os.File
	errs      *os.File
	formatter logrus.Formatter
}

func newFileHook(runDir string) (*fileHook, error) {
	logFile, err := os.OpenFile(filepath.Join(runDir, "export.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open export.log: %w", err)
	}
	errFile, err := os.OpenFile(filepath.Join(runDir, "errors.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to open errors.log: %w", err)
	}
	return &fileHook{
		log:  logFile,
		errs: errFile,
		formatter: &logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		},
	}, nil
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if entry.Level <= logrus.ErrorLevel {
		_, err = h.errs.Write(line)
	} else {
		_, err = h.log.Write(line)
	}
	return err
}

func (h *fileHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.log.Close(); err != nil {
		h.errs.Close()
		return err
	}
	return h.errs.Close()
}

// newRunLogger builds the per-run logger: structured JSON on stdout plus
// the export.log / errors.log pair inside the run directory.
func newRunLogger(runDir string, level logrus.Level) (*logrus.Logger, *fileHook, error) {
	hook, err := newFileHook(runDir)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	logger.AddHook(hook)
	return logger, hook, nil
}
