// Package logging provides a session-scoped logger for the fabric's
// service binaries: every line goes to a per-run log file, with a
// selective subset echoed to the console so operators see what matters
// without wading through debug noise.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionLogger writes to both a log file and (selectively) the console.
type SessionLogger struct {
	file        *os.File
	mu          sync.Mutex
	sessionPath string
	quiet       bool
}

// New opens a fresh session log file under logDir named after service and
// the current time, and redirects the standard log package's output to it
// so every log.Printf in the process (including library code) lands in the
// same file.
func New(logDir, service string, quiet bool) (*SessionLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}

	sessionID := time.Now().Format("20060102-150405")
	sessionPath := filepath.Join(logDir, fmt.Sprintf("%s-%s.log", service, sessionID))

	file, err := os.OpenFile(sessionPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: open session file: %w", err)
	}

	l := &SessionLogger{file: file, sessionPath: sessionPath, quiet: quiet}
	l.writeToFile("=== %s session started %s ===\n", service, time.Now().Format(time.RFC3339))

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime)

	return l, nil
}

// Close finalizes the session file.
func (l *SessionLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.writeToFile("=== session ended %s ===\n", time.Now().Format(time.RFC3339))
	return l.file.Close()
}

// SessionPath returns the path of the active log file.
func (l *SessionLogger) SessionPath() string {
	return l.sessionPath
}

// Debug logs to the file only.
func (l *SessionLogger) Debug(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeToFile("[%s] DEBUG: %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

// Info logs to the file, and to the console unless quiet mode is on.
func (l *SessionLogger) Info(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	message := fmt.Sprintf(format, args...)
	l.writeToFile("[%s] INFO: %s\n", time.Now().Format("15:04:05"), message)
	if !l.quiet {
		fmt.Println(message)
	}
}

// Error logs to both the file and stderr, regardless of quiet mode.
func (l *SessionLogger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	message := fmt.Sprintf(format, args...)
	l.writeToFile("[%s] ERROR: %s\n", time.Now().Format("15:04:05"), message)
	fmt.Fprintf(os.Stderr, "error: %s\n", message)
}

func (l *SessionLogger) writeToFile(format string, args ...interface{}) {
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, format, args...)
}
