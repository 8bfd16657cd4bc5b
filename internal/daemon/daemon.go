package daemon

// NFS SELF-DEADLOCK WARNING:
// The mirrored root must never contain the target. The daemon serves reads
// by touching the root directly; if the root reached the NFS mount the
// daemon itself exports, a request would wait on its own server.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"faultfs/internal/common"
	"faultfs/internal/util"
	"faultfs/internal/vfs"
)

func init() {
	// Default logging to discard until explicitly enabled via --logging flag
	log.SetOutput(io.Discard)
}

// ShareName is the export name used for SMB shares and NFS mounts.
const ShareName = "faultfs"

// maxLogSize is the size above which the log file is truncated at startup.
const maxLogSize = 50 * 1024 * 1024

// Options configures a daemon. Empty fields fall back to settings.yaml.
type Options struct {
	// Root is the directory whose contents are mirrored.
	Root string
	// Target, if set, is where the export gets mounted.
	Target string
	// Listen overrides the settings listen address.
	Listen string
	// LogLevel overrides the settings log level: trace, debug, info, warn, none.
	LogLevel string
	// SkipCleanup skips removal of state left by a crashed daemon on the same root.
	SkipCleanup bool
}

// Daemon serves one mirrored root until it is stopped
type Daemon struct {
	opts     Options
	settings *Settings

	lock    *flock.Flock
	logFile *os.File

	fs      *vfs.FaultFS
	server  NetFSServer
	addr    string
	session string
	mounted bool

	ready chan struct{}
}

// New creates a new daemon instance
func New(opts Options) *Daemon {
	return &Daemon{
		opts:  opts,
		ready: make(chan struct{}),
	}
}

// Ready is closed once the export is serving and the target (if any) is mounted.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the address the export listens on. Valid after Ready.
func (d *Daemon) Addr() string {
	return d.addr
}

// Run starts the daemon and blocks until ctx is done or SIGINT/SIGTERM arrives.
func (d *Daemon) Run(ctx context.Context) error {
	root, err := validateRoot(d.opts.Root)
	if err != nil {
		return err
	}

	if err := InitConfigDir(); err != nil {
		return err
	}
	settings, err := LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if d.opts.LogLevel != "" {
		settings.LogLevel = d.opts.LogLevel
	}
	if d.opts.Listen != "" {
		settings.Listen = d.opts.Listen
	}
	d.settings = settings

	if err := d.setupLogging(); err != nil {
		return err
	}
	defer d.closeLogging()

	// Acquire exclusive lock for this root
	d.lock = flock.New(LockPath(root))
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", root, common.ErrAlreadyRunning)
	}
	defer d.lock.Unlock()

	if !d.opts.SkipCleanup {
		if result, err := CleanupStale(root); err == nil {
			if len(result.StaleMounts) > 0 || result.CleanedStateFile {
				log.Infof("Startup cleanup: %s", FormatCleanupResult(result))
			}
		}
	}

	mount, err := vfs.NewMountContext(root)
	if err != nil {
		return err
	}
	d.fs = vfs.New(mount, vfs.NewTimeSeededFaultInjector(),
		vfs.WithFaultScope(BuildFaultScope(settings.FaultPaths)))
	d.session = uuid.NewString()

	ip, port, err := resolveListen(settings.Listen)
	if err != nil {
		return err
	}
	d.addr = net.JoinHostPort(ip, strconv.Itoa(port))

	logServerType()
	srv, err := createServer(d.fs, ShareName)
	if err != nil {
		return fmt.Errorf("failed to create %s server: %w", NetFSType(), err)
	}
	d.server = srv

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		if err := srv.Serve(d.addr); err != nil {
			return fmt.Errorf("%s server: %w", NetFSType(), err)
		}
		return nil
	})

	startErr := d.start(gctx, root, ip, port)
	if startErr == nil {
		log.Infof("Daemon started (PID %d) serving %s on %s", os.Getpid(), root, d.addr)
		close(d.ready)
		<-gctx.Done()
		if sigCtx.Err() != nil {
			log.Infof("Stop requested, shutting down...")
		}
	}

	d.shutdown(root)
	serveErr := g.Wait()

	if startErr != nil {
		if serveErr != nil {
			return serveErr
		}
		return startErr
	}
	return serveErr
}

// start waits for the server, records the state file and mounts the target.
func (d *Daemon) start(ctx context.Context, root, ip string, port int) error {
	if err := waitForPort(ctx, ip, port, 3*time.Second); err != nil {
		return fmt.Errorf("%s server failed to start: %w", NetFSType(), err)
	}

	if d.opts.Target != "" {
		target, err := filepath.Abs(d.opts.Target)
		if err != nil {
			return err
		}
		d.opts.Target = target
	}

	state := &State{
		PID:       os.Getpid(),
		Session:   d.session,
		Root:      root,
		Addr:      d.addr,
		NetFS:     NetFSType(),
		Target:    d.opts.Target,
		StartedAt: time.Now().UTC(),
	}
	if err := WriteState(state); err != nil {
		return err
	}

	if d.opts.Target == "" {
		return nil
	}
	target := d.opts.Target
	t0 := time.Now()
	err := util.Retry(ctx, func() error {
		return mountNetFS(ip, port, ShareName, target)
	}, util.MountRetryOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("failed to mount %s: %w", target, err)
	}
	d.mounted = true
	log.Infof("Mounted %s export at %s (took %v)", NetFSType(), target, time.Since(t0))
	return nil
}

// shutdown tears down in reverse order of start. The target is unmounted
// while the server is still alive so the kernel client can talk to it.
func (d *Daemon) shutdown(root string) {
	if d.mounted {
		if err := Unmount(d.opts.Target); err != nil {
			log.Warnf("shutdown: unmount failed: %v", err)
		}
		d.mounted = false
	}

	if d.server != nil {
		d.server.Shutdown()
	}

	if d.fs != nil {
		if n := d.fs.Close(); n > 0 {
			log.Infof("shutdown: released %d outstanding handles", n)
		}
		stats := d.fs.FaultStats()
		log.Infof("Fault statistics for %s: %d reads drawn, %d injected (%.3f)",
			d.fs.Mount().Root(), stats.Draws, stats.Injected, stats.Rate())
	}

	if err := RemoveState(root); err != nil {
		log.Warnf("shutdown: %v", err)
	}
	log.Infof("Daemon stopped")
}

// validateRoot returns the absolute form of root if it names a directory.
func validateRoot(root string) (string, error) {
	if root == "" {
		return "", common.ErrInvalidPath
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%s: %w", root, common.ErrInvalidPath)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", root, common.ErrNotFound)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", root, common.ErrNotDir)
	}
	return abs, nil
}

// resolveListen splits addr and picks a free port when it is 0.
func resolveListen(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid listen port %q", portStr)
	}
	if port == 0 {
		port, err = util.RetryWithResult(context.Background(), func() (int, error) {
			return findAvailablePort(host)
		})
		if err != nil {
			return "", 0, fmt.Errorf("failed to find available port: %w", err)
		}
	}
	return host, port, nil
}

// findAvailablePort finds an available TCP port on ip
func findAvailablePort(ip string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForPort waits until a port is accepting connections on the given IP
func waitForPort(ctx context.Context, ip string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	cfg := util.FastPollConfig()
	cfg.Timeout = timeout
	err := util.PollUntil(ctx, cfg, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		return false
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout waiting for port %d", port)
	}
	return err
}

// setupLogging routes logrus to the configured file (or stderr) at the
// configured level. With logging off everything goes to io.Discard.
func (d *Daemon) setupLogging() error {
	if !d.settings.LoggingEnabled() {
		log.SetOutput(io.Discard)
		return nil
	}

	var out io.Writer = os.Stderr
	if path := d.settings.LogFile; path != "" {
		if err := truncateLogFile(path, maxLogSize); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		d.logFile = f
		out = f
	}
	log.SetOutput(out)

	switch strings.ToLower(d.settings.LogLevel) {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func (d *Daemon) closeLogging() {
	if d.logFile != nil {
		log.SetOutput(io.Discard)
		d.logFile.Close()
		d.logFile = nil
	}
}

// truncateLogFile truncates the log file if it exceeds maxSize bytes.
// It keeps the last half of the file content to preserve recent logs.
func truncateLogFile(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= maxSize {
		return nil
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}

	keepSize := len(data) / 2
	startIdx := len(data) - keepSize

	// Find the next newline to avoid cutting a line in the middle
	for i := startIdx; i < len(data); i++ {
		if data[i] == '\n' {
			startIdx = i + 1
			break
		}
	}

	truncatedData := data[startIdx:]
	header := []byte(fmt.Sprintf("--- Log truncated at %s (kept last %d bytes) ---\n",
		time.Now().Format(time.RFC3339), len(truncatedData)))

	return os.WriteFile(logPath, append(header, truncatedData...), 0600)
}
