// Package journal fetches recent log lines for a systemd unit by invoking
// journalctl as an external process.
package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/systemd-mcp/internal/observe"
)

// ErrCommandFailed is returned when the log query process exits non-zero,
// cannot be started, or exceeds its deadline.
var ErrCommandFailed = errors.New("external command failed")

// DefaultLines is the number of trailing log lines fetched per query.
const DefaultLines = 20

// Querier returns the last lines of a unit's journal.
type Querier interface {
	Query(ctx context.Context, unit string, lines int) (string, error)
}

// Journalctl runs the journalctl binary. The zero value is not usable; create
// one with [New].
type Journalctl struct {
	command string
	timeout time.Duration
	metrics *observe.Metrics
}

var _ Querier = (*Journalctl)(nil)

// Option configures a [Journalctl].
type Option func(*Journalctl)

// WithCommand overrides the journalctl executable (name or path).
func WithCommand(cmd string) Option {
	return func(j *Journalctl) { j.command = cmd }
}

// WithTimeout bounds each invocation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(j *Journalctl) { j.timeout = d }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(j *Journalctl) { j.metrics = m }
}

// New returns a Journalctl invoking "journalctl" with a 10s timeout.
func New(opts ...Option) *Journalctl {
	j := &Journalctl{
		command: "journalctl",
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(j)
	}
	if j.metrics == nil {
		j.metrics = observe.DefaultMetrics()
	}
	return j
}

// Query runs `journalctl -u <unit> -n <lines> --no-pager` and returns its
// stdout verbatim. A non-positive lines falls back to [DefaultLines].
func (j *Journalctl) Query(ctx context.Context, unit string, lines int) (string, error) {
	if lines <= 0 {
		lines = DefaultLines
	}
	args := []string{"-u", unit, "-n", strconv.Itoa(lines), "--no-pager"}
	cmdline := j.command + " " + strings.Join(args, " ")

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	ctx, span := observe.StartSpan(ctx, "journal.Query")
	defer span.End()
	start := time.Now()

	cmd := exec.CommandContext(ctx, j.command, args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	status := "ok"
	defer func() { j.metrics.RecordLogQuery(ctx, status, time.Since(start)) }()

	if err != nil {
		status = "error"
		switch {
		case j.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("journal: %s: %w: timed out after %s", cmdline, ErrCommandFailed, j.timeout)
		case ctx.Err() != nil:
			err = fmt.Errorf("journal: %s: %w: %v", cmdline, ErrCommandFailed, ctx.Err())
		default:
			err = fmt.Errorf("journal: %s: %w: %v (stderr: %s)", cmdline, ErrCommandFailed, err, strings.TrimSpace(stderr.String()))
		}
		observe.FailSpan(span, err)
		return "", err
	}
	return stdout.String(), nil
}

// Available reports whether the configured command can be found. It is used
// as a readiness check and does not run the command.
func (j *Journalctl) Available(_ context.Context) error {
	if _, err := exec.LookPath(j.command); err != nil {
		return fmt.Errorf("journal: %w: %v", ErrCommandFailed, err)
	}
	return nil
}
