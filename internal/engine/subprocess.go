package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// SubprocessConfig describes an engine process to spawn.
type SubprocessConfig struct {
	// Bin is the mlc_llm executable.
	Bin       string
	ModelPath string
	LibPath   string
	// Device is passed through to --device; omitted when empty.
	Device string
	Host   string
	// PortStart and PortEnd bound the listen port; an ephemeral port is used when unset.
	PortStart int
	PortEnd   int
	// StartupTimeout bounds the wait for the engine to answer /v1/models.
	StartupTimeout time.Duration
	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration
	ExtraArgs   []string
	Logger      zerolog.Logger
}

const (
	defaultStartupTimeout = 5 * time.Minute
	defaultStopTimeout    = 5 * time.Second
	healthPollInterval    = 200 * time.Millisecond
)

// Subprocess is an engine running as a child process, driven over HTTP.
type Subprocess struct {
	*Remote

	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
	stderr  *tailBuffer
	stopTO  time.Duration
	log     zerolog.Logger

	stopOnce sync.Once
}

// Args renders the mlc_llm serve command line for cfg on port.
func (cfg SubprocessConfig) Args(host string, port int) []string {
	args := []string{"serve", cfg.ModelPath}
	if cfg.LibPath != "" {
		args = append(args, "--model-lib", cfg.LibPath)
	}
	if cfg.Device != "" {
		args = append(args, "--device", cfg.Device)
	}
	args = append(args, "--host", host, "--port", strconv.Itoa(port))
	return append(args, cfg.ExtraArgs...)
}

// NewSubprocess starts the engine and waits until it is healthy. The
// process is stopped again if it exits early, ctx ends or the startup
// timeout passes.
func NewSubprocess(ctx context.Context, cfg SubprocessConfig) (*Subprocess, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	if cfg.Bin == "" {
		return nil, errors.New("engine binary not configured")
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	var (
		port int
		err  error
	)
	if cfg.PortStart > 0 && cfg.PortEnd >= cfg.PortStart {
		port, err = pickPortInRange(host, cfg.PortStart, cfg.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return nil, err
	}
	baseURL := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	log := cfg.Logger.With().Str("model", cfg.ModelPath).Str("url", baseURL).Logger()

	cmd := exec.Command(cfg.Bin, cfg.Args(host, port)...)
	cmd.Stdout = os.Stderr
	stderr := &tailBuffer{max: 8 << 10}
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	sp := &Subprocess{
		Remote: NewRemote(baseURL, Options{Logger: cfg.Logger}),
		cmd:    cmd,
		exited: make(chan struct{}),
		stderr: stderr,
		stopTO: cfg.StopTimeout,
		log:    log,
	}
	if sp.stopTO <= 0 {
		sp.stopTO = defaultStopTimeout
	}
	sp.Remote.onClose = sp.stop
	go func() {
		sp.waitErr = cmd.Wait()
		close(sp.exited)
	}()
	log.Info().Int("pid", cmd.Process.Pid).Msg("engine_spawn_start")

	timeout := cfg.StartupTimeout
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}
	if err := sp.waitReady(ctx, timeout); err != nil {
		_ = sp.stop()
		return nil, err
	}
	log.Info().Int("pid", cmd.Process.Pid).Msg("engine_spawn_ready")
	return sp, nil
}

func (sp *Subprocess) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var exitErr error
	err := retry.Do(func() error {
		select {
		case <-sp.exited:
			if sp.waitErr != nil {
				exitErr = fmt.Errorf("engine exited early: %v; stderr tail: %s", sp.waitErr, sp.stderr.String())
			} else {
				exitErr = errors.New("engine exited before ready")
			}
			return retry.Unrecoverable(exitErr)
		default:
		}
		hctx, hcancel := context.WithTimeout(ctx, time.Second)
		defer hcancel()
		return sp.Health(hctx)
	},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(healthPollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	switch {
	case err == nil:
		return nil
	case exitErr != nil:
		sp.log.Warn().Err(exitErr).Msg("engine_spawn_exit")
		return exitErr
	case ctx.Err() != nil:
		sp.log.Warn().Int("pid", sp.PID()).Msg("engine_spawn_timeout")
		return fmt.Errorf("engine not ready in time at %s: %w", sp.BaseURL(), ctx.Err())
	default:
		return err
	}
}

// PID of the engine process.
func (sp *Subprocess) PID() int {
	if sp.cmd.Process == nil {
		return 0
	}
	return sp.cmd.Process.Pid
}

// Exited is closed when the engine process ends.
func (sp *Subprocess) Exited() <-chan struct{} { return sp.exited }

// stop sends SIGTERM to the process group, then SIGKILL after the grace period.
func (sp *Subprocess) stop() error {
	sp.stopOnce.Do(func() {
		select {
		case <-sp.exited:
			return
		default:
		}
		terminateGroup(sp.cmd)
		select {
		case <-sp.exited:
		case <-time.After(sp.stopTO):
			killGroup(sp.cmd)
			<-sp.exited
		}
		sp.log.Info().Int("pid", sp.PID()).Msg("engine_spawn_stop")
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
