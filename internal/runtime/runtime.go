// Package runtime carries the one piece of scaffold every cmd/* service
// binary repeats: resolve an instance identity, open a session logger, log
// with that identity as a prefix, and block until an OS signal or a
// caller-triggered cancellation asks the service to stop.
package runtime

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nembal/fullsend-fabric/internal/logging"
)

// Service is a minimal runtime identity shared by every binary: a name for
// log lines, a debug flag that gates LogDebug, and the session logger every
// LogInfo/LogDebug/LogError line is routed through.
type Service struct {
	Name   string
	Debug  bool
	logger *logging.SessionLogger
}

// New resolves a Service's name and debug flag the way the teacher's agents
// resolved their identity: CLI flag beats environment variable beats a
// generated fallback. It then opens a session log file under logDir; if
// that fails (e.g. an unwritable directory), Service falls back to stdlib
// log.Printf on stderr rather than refusing to start.
//
// Name resolution: --id=<name> > FULLSEND_SERVICE_ID > "<serviceType>-<hostname>-<pid>".
// Debug resolution: FULLSEND_DEBUG=true, else the debug argument (usually config.Debug).
func New(serviceType, logDir string, debug bool) *Service {
	name := ResolveID(serviceType)
	debug = debug || GetDebugFromEnv()

	logger, err := logging.New(logDir, serviceType, false)
	if err != nil {
		log.Printf("%s: session logger unavailable, falling back to stderr: %v", name, err)
		logger = nil
	}

	return &Service{Name: name, Debug: debug, logger: logger}
}

// ResolveID finds this process's instance name, falling back to a
// hostname/pid-qualified generated one so multiple instances of the same
// service never collide in logs.
func ResolveID(serviceType string) string {
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "--id=") {
			return strings.TrimPrefix(arg, "--id=")
		}
	}
	if id := os.Getenv("FULLSEND_SERVICE_ID"); id != "" {
		return id
	}
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%s-%d", serviceType, hostname, os.Getpid())
}

// GetDebugFromEnv checks the fabric-wide debug override.
func GetDebugFromEnv() bool {
	return os.Getenv("FULLSEND_DEBUG") == "true"
}

// Close finalizes the session log file, if one was opened.
func (s *Service) Close() error {
	if s.logger == nil {
		return nil
	}
	return s.logger.Close()
}

func (s *Service) LogInfo(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Info("%s: %s", s.Name, fmt.Sprintf(format, args...))
		return
	}
	log.Printf(s.Name+": "+format, args...)
}

func (s *Service) LogDebug(format string, args ...interface{}) {
	if !s.Debug {
		return
	}
	if s.logger != nil {
		s.logger.Debug("%s: %s", s.Name, fmt.Sprintf(format, args...))
		return
	}
	log.Printf(s.Name+" [DEBUG]: "+format, args...)
}

func (s *Service) LogError(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Error("%s: %s", s.Name, fmt.Sprintf(format, args...))
		return
	}
	log.Printf(s.Name+" [ERROR]: "+format, args...)
}

// Run wires signal handling the way AgentFramework.handleShutdown did:
// SIGINT/SIGTERM or the parent context being canceled both trigger the same
// graceful-stop path. start is called with a context that is canceled the
// moment either happens; Run blocks until start returns.
func (s *Service) Run(parent context.Context, start func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			s.LogInfo("received OS signal: %s, stopping gracefully...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	s.LogInfo("started successfully (PID: %d), waiting for shutdown signal", os.Getpid())
	err := start(ctx)
	s.LogInfo("stopped gracefully")
	return err
}
