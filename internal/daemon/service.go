package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	kardianos "github.com/kardianos/service"
)

// ServiceName is the name registered with the OS service manager
const ServiceName = "chat-tasks"

// stopTimeout bounds how long Stop waits for the run function to return
const stopTimeout = 30 * time.Second

// Program adapts a blocking run function to kardianos.Interface. The run
// function must return when its context is cancelled.
type Program struct {
	run    func(ctx context.Context) error
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewProgram creates a new service program
func NewProgram(run func(ctx context.Context) error, logger *slog.Logger) *Program {
	if logger == nil {
		logger = slog.Default()
	}
	return &Program{run: run, logger: logger.With("component", "daemon")}
}

// Start implements kardianos.Interface. It must not block.
func (p *Program) Start(s kardianos.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	p.logger.Info("service starting", "service", serviceString(s), "platform", platform(s))

	go func(done chan<- error) {
		done <- p.run(ctx)
	}(p.done)
	return nil
}

// Stop implements kardianos.Interface
func (p *Program) Stop(s kardianos.Service) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	p.logger.Info("service stopping", "service", serviceString(s))
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("service did not stop within %s", stopTimeout)
	}
}

func serviceString(s kardianos.Service) string {
	if s == nil {
		return ServiceName
	}
	return s.String()
}

func platform(s kardianos.Service) string {
	if s == nil {
		return runtime.GOOS
	}
	return s.Platform()
}

// NewService registers p with the OS service manager. The installed service
// runs this binary with the "daemon" command plus any extra arguments.
func NewService(p *Program, extraArgs ...string) (kardianos.Service, error) {
	return kardianos.New(p, &kardianos.Config{
		Name:        ServiceName,
		DisplayName: "Chat Tasks Scheduler",
		Description: "Runs scheduled chat prompts against an OpenAI-compatible endpoint",
		Arguments:   append([]string{"daemon"}, extraArgs...),
	})
}

// Actions lists the supported service control actions
func Actions() []string {
	return kardianos.ControlAction[:]
}

// Control runs install, uninstall, start, stop or restart against the service
func Control(s kardianos.Service, action string) error {
	if !slices.Contains(Actions(), action) {
		return fmt.Errorf("unknown service action %q (valid: %v)", action, Actions())
	}
	if err := kardianos.Control(s, action); err != nil {
		if action == "install" && runtime.GOOS == "windows" {
			return fmt.Errorf("failed to install Windows service (requires administrator privileges): %w", err)
		}
		return fmt.Errorf("failed to %s service: %w", action, err)
	}
	return nil
}
