package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"imagepipe/internal/config"
	"imagepipe/internal/deps"
)

const transferProbeTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minBytes available to unprivileged writers.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	if free < minBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s free, need %s)", path, humanize.IBytes(free), humanize.IBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s free)", path, humanize.IBytes(free))}
}

// CheckFile verifies that a regular file exists and is readable.
func CheckFile(name, path string) Result {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, humanize.IBytes(uint64(info.Size())))}
}

// CheckTransferReachable verifies that the SFTP host accepts TCP connections.
// Authentication is left to the first transfer so a probe never holds a
// session open.
func CheckTransferReachable(ctx context.Context, host string, port int) Result {
	const name = "SFTP destination"

	host = strings.TrimSpace(host)
	if host == "" {
		return Result{Name: name, Detail: "missing host"}
	}
	if port <= 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	checkCtx, cancel := context.WithTimeout(ctx, transferProbeTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", addr, summarizeDialError(err))}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", addr)}
}

// CheckTransferFromConfig evaluates the SFTP destination from config and connectivity.
func CheckTransferFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "SFTP destination"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.TransferConfigured() {
		return Result{Name: name, Detail: "Missing host"}
	}
	if strings.TrimSpace(cfg.Transfer.Username) == "" {
		return Result{Name: name, Detail: "Missing username"}
	}
	return CheckTransferReachable(ctx, cfg.Transfer.Host, cfg.Transfer.Port)
}

// CheckSystemDeps evaluates all external programs for the given config.
// Both the daemon and the status endpoint use this to avoid duplicating the
// requirements list.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Enhancer",
			Command:     cfg.Enhancer.Binary,
			Description: "Required for resolution enhancement",
		},
	}
	if cfg.Captioner.Enabled {
		requirements = append(requirements, deps.Requirement{
			Name:        "Captioner",
			Command:     cfg.Captioner.Binary,
			Description: "Required for caption search",
		})
	}
	return deps.CheckBinaries(requirements)
}

// summarizeDialError produces a human-readable summary for connectivity failures.
func summarizeDialError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "connect timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "connect timed out"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err.Error()
	}
	return err.Error()
}
