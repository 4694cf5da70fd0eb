// File: internal/launcher/launcher.go
package launcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chaser/internal/config"
	"github.com/xkilldash9x/chaser/internal/errdefs"
	"github.com/xkilldash9x/chaser/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// candidates are tried in order when no explicit chrome path is set.
var candidates = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"/usr/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// startupTimeout bounds how long the DevTools endpoint may take to come up.
const startupTimeout = 30 * time.Second

// childProcess adapts exec.Cmd to the registry's process contract.
type childProcess struct {
	cmd *exec.Cmd
}

func (c *childProcess) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	err := c.cmd.Process.Kill()
	// Reap the child so it does not linger as a zombie.
	go func() { _ = c.cmd.Wait() }()
	return err
}

func (c *childProcess) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Launcher starts local Chromium processes and resolves their DevTools
// WebSocket endpoints. It satisfies the registry's launch hook.
type Launcher struct {
	logger *zap.Logger
	cfg    config.BrowserConfig
}

// New constructs a Launcher.
func New(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{logger: logger.Named("launcher"), cfg: cfg}
}

// Hook returns the LaunchFunc the registry consumes.
func (l *Launcher) Hook() session.LaunchFunc {
	return l.Launch
}

// Launch starts Chromium with a dedicated remote-debugging port and waits
// for the browser-wide WebSocket URL to become available.
func (l *Launcher) Launch(ctx context.Context, opts session.BrowserOptions) (*session.Launched, error) {
	binary, err := l.findBinary()
	if err != nil {
		return nil, err
	}
	port, err := freePort()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, "no free debug port", err)
	}

	dataDir, err := os.MkdirTemp("", "chaser-profile-*")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, "create profile dir", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-extensions",
		// Keeps navigator.webdriver and friends from flagging automation.
		"--disable-blink-features=AutomationControlled",
	}
	headless := l.cfg.Headless || opts.Headless
	if headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	if l.cfg.IgnoreTLSErrors {
		args = append(args, "--ignore-certificate-errors")
	}
	args = append(args, l.cfg.Args...)
	args = append(args, opts.ExtraArgs...)
	args = append(args, "about:blank")

	cmd := exec.Command(binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, "start chromium", err)
	}

	l.logger.Info("chromium started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("debug_port", port),
		zap.Bool("headless", headless))

	wsURL, err := l.awaitEndpoint(ctx, port)
	if err != nil {
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
		return nil, err
	}

	return &session.Launched{WSURL: wsURL, Proc: &childProcess{cmd: cmd}}, nil
}

func (l *Launcher) findBinary() (string, error) {
	if l.cfg.ChromePath != "" {
		return l.cfg.ChromePath, nil
	}
	for _, name := range candidates {
		if strings.Contains(name, "/") {
			if _, err := os.Stat(name); err == nil {
				return name, nil
			}
			continue
		}
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errdefs.Internal("no chromium binary found; set browser.chrome_path")
}

type versionResponse struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// awaitEndpoint polls the /json/version endpoint until the browser
// publishes its WebSocket debugger URL.
func (l *Launcher) awaitEndpoint(ctx context.Context, port int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", errdefs.Wrap(errdefs.CodeInternal, "build version request", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			var version versionResponse
			derr := json.NewDecoder(resp.Body).Decode(&version)
			resp.Body.Close()
			if derr == nil && version.WebSocketDebuggerURL != "" {
				return version.WebSocketDebuggerURL, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", errdefs.Timeout("waiting for devtools endpoint")
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
