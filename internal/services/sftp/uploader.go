package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"imagepipe/internal/config"
	"imagepipe/internal/logging"
	"imagepipe/internal/services"
	"imagepipe/internal/stage"
)

const (
	defaultChunkSize   = 32 * 1024
	defaultConcurrency = 64
)

// ProgressFunc receives the number of bytes acknowledged so far and the file size.
type ProgressFunc = func(transferred, total int64)

// UploaderSettings controls streaming behaviour.
type UploaderSettings struct {
	RemoteDir   string
	ChunkSize   int
	Concurrency int
}

// UploaderSettingsFromConfig extracts streaming settings from application config.
func UploaderSettingsFromConfig(cfg *config.Config) UploaderSettings {
	if cfg == nil {
		return UploaderSettings{}
	}
	return UploaderSettings{
		RemoteDir:   cfg.Transfer.RemoteDir,
		ChunkSize:   cfg.Transfer.ChunkSize,
		Concurrency: cfg.Transfer.Concurrency,
	}
}

// Uploader streams local files to the remote directory. Every transfer opens
// its own session on the shared Conn.
type Uploader struct {
	conn     *Conn
	settings UploaderSettings
	logger   *slog.Logger
}

// NewUploader constructs an uploader bound to conn.
func NewUploader(conn *Conn, settings UploaderSettings, logger *slog.Logger) *Uploader {
	if settings.ChunkSize <= 0 {
		settings.ChunkSize = defaultChunkSize
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = defaultConcurrency
	}
	if strings.TrimSpace(settings.RemoteDir) == "" {
		settings.RemoteDir = "/"
	}
	return &Uploader{
		conn:     conn,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "sftp"),
	}
}

// RemotePath returns where a file named remoteName is stored.
func (u *Uploader) RemotePath(remoteName string) string {
	return path.Join(u.settings.RemoteDir, path.Base("/"+remoteName))
}

// HealthCheck delegates to the underlying connection.
func (u *Uploader) HealthCheck(ctx context.Context) stage.Health {
	return u.conn.HealthCheck(ctx)
}

type chunkResult struct {
	n   int
	err error
}

// Transfer uploads localPath as remoteName. At most Concurrency chunk writes are
// in flight; acknowledgements are consumed in offset order and onProgress is
// invoked from the calling goroutine after each one. Failures are not retried.
func (u *Uploader) Transfer(ctx context.Context, localPath, remoteName string, onProgress ProgressFunc) error {
	local, err := os.Open(localPath)
	if err != nil {
		return services.Wrap(services.ErrTransfer, stage.Transfer, "open", "open local file", err)
	}
	defer local.Close()
	info, err := local.Stat()
	if err != nil {
		return services.Wrap(services.ErrTransfer, stage.Transfer, "open", "stat local file", err)
	}
	total := info.Size()

	client, err := u.conn.Session(ctx)
	if err != nil {
		if errors.Is(err, services.ErrConfiguration) {
			return err
		}
		return services.Wrap(services.ErrTransfer, stage.Transfer, "connect", "open sftp session", err)
	}
	defer client.Close()

	remotePath := u.RemotePath(remoteName)
	if err := client.MkdirAll(u.settings.RemoteDir); err != nil {
		u.conn.Probe(ctx)
		return services.Wrap(services.ErrTransfer, stage.Transfer, "mkdir", "create remote directory "+u.settings.RemoteDir, err)
	}
	remote, err := client.Create(remotePath)
	if err != nil {
		u.conn.Probe(ctx)
		return services.Wrap(services.ErrTransfer, stage.Transfer, "create", "open remote file "+remotePath, err)
	}

	streamErr := u.stream(ctx, local, remote, total, onProgress)
	closeErr := remote.Close()
	if streamErr == nil && closeErr != nil {
		streamErr = fmt.Errorf("close remote file: %w", closeErr)
	}
	if streamErr != nil {
		u.conn.Probe(ctx)
		return services.Wrap(services.ErrTransfer, stage.Transfer, "write", "upload "+remotePath, streamErr)
	}
	if total == 0 && onProgress != nil {
		onProgress(0, 0)
	}
	return nil
}

func (u *Uploader) stream(ctx context.Context, local io.ReaderAt, remote io.WriterAt, total int64, onProgress ProgressFunc) error {
	chunk := int64(u.settings.ChunkSize)
	window := make([]chan chunkResult, 0, u.settings.Concurrency)
	sampler := logging.NewProgressSampler(5)
	logger := logging.WithContext(ctx, u.logger)

	var (
		offset      int64
		transferred int64
		failure     error
	)
	for offset < total || len(window) > 0 {
		for failure == nil && offset < total && len(window) < u.settings.Concurrency {
			if err := ctx.Err(); err != nil {
				failure = err
				break
			}
			size := min(chunk, total-offset)
			buf := make([]byte, size)
			if _, err := local.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
				failure = fmt.Errorf("read local file at %d: %w", offset, err)
				break
			}
			done := make(chan chunkResult, 1)
			go func(buf []byte, off int64) {
				n, err := remote.WriteAt(buf, off)
				done <- chunkResult{n: n, err: err}
			}(buf, offset)
			window = append(window, done)
			offset += size
		}
		if len(window) == 0 {
			break
		}

		res := <-window[0]
		window = window[1:]
		if failure != nil {
			continue
		}
		if res.err != nil {
			failure = res.err
			continue
		}
		transferred += int64(res.n)
		if onProgress != nil {
			onProgress(transferred, total)
		}
		if total > 0 && sampler.ShouldLog(float64(transferred)/float64(total), "ftp_upload") {
			logger.Debug("transfer progress",
				logging.Int64("transferred_bytes", transferred),
				logging.Int64("total_bytes", total),
				logging.Float64("progress", float64(transferred)/float64(total)),
			)
		}
	}
	return failure
}
