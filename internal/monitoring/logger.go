// Package monitoring provides the process-wide diagnostic logger and the
// per-session rotating log file.
package monitoring

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// TeeToFile routes the standard logger to both stderr and a rotating log file
// at path, creating the parent directory if needed. The returned closer flushes
// and releases the file sink; after Close the logger writes to stderr only.
func TeeToFile(path string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	rotating := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotating))
	return &fileSink{rotating: rotating}, nil
}

type fileSink struct {
	rotating *lumberjack.Logger
}

func (s *fileSink) Close() error {
	log.SetOutput(os.Stderr)
	return s.rotating.Close()
}
