package composition

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"reelsmith/internal/services"
)

var commandContext = exec.CommandContext

const stderrTail = 4096

// tailBuffer keeps the last n bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	n   int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.n {
		t.buf = t.buf[len(t.buf)-t.n:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// ffmpegArgs prefixes the flags every stage shares.
func ffmpegArgs(args ...string) []string {
	return append([]string{"-y", "-hide_banner", "-nostdin", "-nostats", "-loglevel", "error", "-progress", "pipe:1"}, args...)
}

// runFFmpeg runs one stage. The child gets its own process group so
// cancellation kills ffmpeg and anything it spawned.
func runFFmpeg(ctx context.Context, binary string, stage Stage, args []string, expected float64, onPercent func(float64)) error {
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	stderr := &tailBuffer{n: stderrTail}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return services.New(services.KindFatal, "composition "+string(stage), "stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return services.New(services.KindConfiguration, "composition "+string(stage), fmt.Sprintf("ffmpeg binary %q not found", binary), err)
		}
		return services.New(services.KindFatal, "composition "+string(stage), "start ffmpeg", err)
	}

	parser := &progressParser{expected: expected}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if pct, ok := parser.parse(scanner.Text()); ok && onPercent != nil {
			onPercent(pct)
		}
	}

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return services.New(services.KindCancelled, "composition "+string(stage), "render cancelled", ctxErr)
	}
	if waitErr != nil {
		msg := stderr.String()
		if msg == "" {
			msg = "ffmpeg exited without output"
		}
		return services.New(services.KindFatal, "composition "+string(stage), msg, waitErr)
	}
	return nil
}
