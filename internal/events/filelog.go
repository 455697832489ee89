package events

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileLogger is a Sink that appends log and status events to a per-run log
// file and, optionally, echoes them to an operator-facing writer.
type FileLogger struct {
	file   *os.File
	logger *log.Logger
	echo   io.Writer
	path   string
}

// NewFileLogger creates postyard_YYYYMMDD_HHMMSS.log under dir. echo may be nil.
func NewFileLogger(dir string, echo io.Writer, now time.Time) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("events: create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "postyard_"+now.Format("20060102_150405")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: open log file %s: %w", path, err)
	}
	return &FileLogger{
		file:   f,
		logger: log.New(f, "", log.LstdFlags),
		echo:   echo,
		path:   path,
	}, nil
}

// Path returns the log file path.
func (l *FileLogger) Path() string { return l.path }

// Close flushes and closes the log file.
func (l *FileLogger) Close() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("events: close log file: %w", err)
	}
	return nil
}

func (l *FileLogger) write(level, msg string) {
	l.logger.Printf("%s - %s", strings.ToUpper(level), msg)
	if l.echo != nil {
		fmt.Fprintf(l.echo, "%s %s\n", time.Now().Format("15:04:05"), msg)
	}
}

func (l *FileLogger) OnLog(level Level, msg string) {
	l.write(string(level), msg)
}

func (l *FileLogger) OnStatus(status string) {
	l.logger.Printf("STATUS - %s", status)
}

func (l *FileLogger) OnProgress(current, total int) {
	l.logger.Printf("PROGRESS - %d/%d", current, total)
}

func (l *FileLogger) OnPreview(imagePath, caption string) {}

func (l *FileLogger) OnAuthInterrupt(i Interrupt) {
	l.write(string(LevelWarning), fmt.Sprintf("verification required (%s) for %s", i.Kind, i.Username))
}
