package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"text/template"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// Notifier kinds accepted by NewNotifier.
const (
	NotifierDesktop = "desktop"
	NotifierCommand = "command"
	NotifierLog     = "log"
)

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	// Run executes the command and returns its exit code. A non-zero exit is
	// not an error; err is set only when the command could not be run.
	Run(ctx context.Context, name string, args ...string) (int, error)
}

// RealCommandRunner executes real system commands.
type RealCommandRunner struct{}

// Run executes a command and waits for it to complete.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) (int, error) {
	err := exec.CommandContext(ctx, name, args...).Run()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// NotifierOptions selects and configures a notifier implementation.
type NotifierOptions struct {
	Kind           string
	Command        string
	IgnoreExitCode int
}

// NewNotifier builds the notifier named by opts.Kind.
func NewNotifier(opts NotifierOptions, logger *zap.Logger) (domain.Notifier, error) {
	switch opts.Kind {
	case "", NotifierDesktop:
		return NewDesktopNotifier(logger), nil
	case NotifierCommand:
		n, err := NewCommandNotifier(opts.Command, opts.IgnoreExitCode, &RealCommandRunner{}, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	case NotifierLog:
		return NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unknown notifier kind %q", opts.Kind)
	}
}

// DesktopNotifier posts a desktop notification. Desktop notifications carry
// no reply, so the warning counts as acknowledged once it is posted.
type DesktopNotifier struct {
	notify func(title, message string) error
	logger *zap.Logger
}

// NewDesktopNotifier creates a notifier backed by the OS notification center.
func NewDesktopNotifier(logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		logger: logger.Named("notifier"),
	}
}

// ShowWarning posts the notification and acknowledges it.
func (n *DesktopNotifier) ShowWarning(ctx context.Context, w domain.Warning, onAcknowledge func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.notify(w.Title, w.Message); err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	n.logger.Info("warning posted", zap.String("target", w.Key))
	onAcknowledge()
	return nil
}

// warningView is the data available to command argument templates.
type warningView struct {
	Key           string
	DisplayName   string
	Title         string
	Message       string
	TimeRemaining string
}

// CommandNotifier runs an external dialog command for each warning. Exit code
// 0 acknowledges the warning. The configured ignore exit code means the user
// chose to keep ignoring limits, which leaves the target suppressed. Any other
// outcome is an error.
type CommandNotifier struct {
	name           string
	args           []*template.Template
	ignoreExitCode int
	runner         CommandRunner
	logger         *zap.Logger
}

// NewCommandNotifier parses command as a shell-quoted argv whose elements may
// reference {{.Title}}, {{.Message}}, {{.Key}}, {{.DisplayName}} and
// {{.TimeRemaining}}.
func NewCommandNotifier(command string, ignoreExitCode int, runner CommandRunner, logger *zap.Logger) (*CommandNotifier, error) {
	words, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notifier command: %w", err)
	}
	if len(words) == 0 {
		return nil, errors.New("notifier command is empty")
	}

	args := make([]*template.Template, 0, len(words)-1)
	for i, word := range words[1:] {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(word)
		if err != nil {
			return nil, fmt.Errorf("failed to parse notifier argument %q: %w", word, err)
		}
		args = append(args, tmpl)
	}

	return &CommandNotifier{
		name:           words[0],
		args:           args,
		ignoreExitCode: ignoreExitCode,
		runner:         runner,
		logger:         logger.Named("notifier"),
	}, nil
}

// ShowWarning runs the dialog command and blocks until it exits.
func (n *CommandNotifier) ShowWarning(ctx context.Context, w domain.Warning, onAcknowledge func()) error {
	view := warningView{
		Key:           w.Key,
		DisplayName:   w.DisplayName,
		Title:         w.Title,
		Message:       w.Message,
		TimeRemaining: w.TimeRemaining.Round(time.Second).String(),
	}

	argv := make([]string, 0, len(n.args))
	for _, tmpl := range n.args {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, view); err != nil {
			return fmt.Errorf("failed to render notifier argument: %w", err)
		}
		argv = append(argv, buf.String())
	}

	code, err := n.runner.Run(ctx, n.name, argv...)
	if err != nil {
		return fmt.Errorf("failed to run notifier command: %w", err)
	}

	switch code {
	case 0:
		n.logger.Info("warning acknowledged", zap.String("target", w.Key))
		onAcknowledge()
		return nil
	case n.ignoreExitCode:
		n.logger.Info("user chose to keep ignoring limits", zap.String("target", w.Key))
		return nil
	default:
		return fmt.Errorf("notifier command exited with code %d", code)
	}
}

// LogNotifier writes warnings to the log and acknowledges them. It serves
// headless machines where no dialog can be shown.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

// ShowWarning logs the warning and acknowledges it.
func (n *LogNotifier) ShowWarning(_ context.Context, w domain.Warning, onAcknowledge func()) error {
	n.logger.Warn(w.Title,
		zap.String("target", w.Key),
		zap.String("message", w.Message),
		zap.Duration("time_remaining", w.TimeRemaining))
	onAcknowledge()
	return nil
}

var (
	_ domain.Notifier = (*DesktopNotifier)(nil)
	_ domain.Notifier = (*CommandNotifier)(nil)
	_ domain.Notifier = (*LogNotifier)(nil)
)
