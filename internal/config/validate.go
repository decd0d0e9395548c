package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEnhancer(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind: %w", err)
	}
	if c.Paths.UploadDir == c.Paths.OutputDir {
		return errors.New("paths.upload_dir and paths.output_dir must differ")
	}
	return nil
}

func (c *Config) validateEnhancer() error {
	if c.Enhancer.Tile < 0 {
		return errors.New("enhancer.tile must be positive")
	}
	if c.Enhancer.TimeoutSeconds <= 0 {
		return errors.New("enhancer.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateTransfer() error {
	t := c.Transfer
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("transfer.port must be between 1 and 65535 (got %d)", t.Port)
	}
	if t.ChunkSize < minChunkSize || t.ChunkSize > maxChunkSize {
		return fmt.Errorf("transfer.chunk_size must be between %d and %d bytes", minChunkSize, maxChunkSize)
	}
	if t.Concurrency <= 0 || t.Concurrency > maxTransferConcurrency {
		return fmt.Errorf("transfer.concurrency must be between 1 and %d", maxTransferConcurrency)
	}
	if t.KeepAliveSeconds < 0 {
		return fmt.Errorf("transfer.keepalive_seconds must not be negative (got %d)", t.KeepAliveSeconds)
	}
	if !path.IsAbs(t.RemoteDir) {
		return fmt.Errorf("transfer.remote_dir must be an absolute remote path (got %q)", t.RemoteDir)
	}
	if t.Host != "" && t.Username == "" {
		return fmt.Errorf("transfer.username is required when transfer.host is set. Set %s or edit the config file", envSFTPUsername)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.EnhanceDone < 0 || p.EnhanceDone > 1 {
		return errors.New("pipeline.enhance_done must be between 0 and 1")
	}
	if p.TransferStart < 0 || p.TransferStart > 1 {
		return errors.New("pipeline.transfer_start must be between 0 and 1")
	}
	if p.EnhanceDone > p.TransferStart {
		return errors.New("pipeline.enhance_done must not exceed pipeline.transfer_start")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notify.NtfyTopic
	if topic == "" {
		return nil
	}
	u, err := url.Parse(topic)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL (got %q)", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}
