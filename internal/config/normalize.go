package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeEnhancer(); err != nil {
		return err
	}
	if err := c.normalizeTransfer(); err != nil {
		return err
	}
	if err := c.normalizeCaptioner(); err != nil {
		return err
	}
	if err := c.normalizeInbox(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = defaultUploadDir
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv(envAPIToken); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	if c.Paths.MaxUploadMB <= 0 {
		c.Paths.MaxUploadMB = defaultMaxUploadMB
	}
	origins := make([]string, 0, len(c.Paths.CORSOrigins))
	for _, origin := range c.Paths.CORSOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.Paths.CORSOrigins = origins
	return nil
}

func (c *Config) normalizeEnhancer() error {
	c.Enhancer.Binary = strings.TrimSpace(c.Enhancer.Binary)
	if c.Enhancer.Binary == "" {
		c.Enhancer.Binary = defaultEnhancerBinary
	}
	if strings.TrimSpace(c.Enhancer.ModelPath) == "" {
		if value, ok := os.LookupEnv(envEnhancerModel); ok {
			c.Enhancer.ModelPath = strings.TrimSpace(value)
		}
	}
	var err error
	if c.Enhancer.ModelPath, err = expandOptional(c.Enhancer.ModelPath); err != nil {
		return fmt.Errorf("enhancer.model_path: %w", err)
	}
	if c.Enhancer.Script, err = expandOptional(c.Enhancer.Script); err != nil {
		return fmt.Errorf("enhancer.script: %w", err)
	}
	if c.Enhancer.WorkDir, err = expandOptional(c.Enhancer.WorkDir); err != nil {
		return fmt.Errorf("enhancer.work_dir: %w", err)
	}
	if c.Enhancer.Tile <= 0 {
		c.Enhancer.Tile = defaultEnhancerTile
	}
	if c.Enhancer.TimeoutSeconds <= 0 {
		c.Enhancer.TimeoutSeconds = defaultEnhancerTimeout
	}
	return nil
}

func (c *Config) normalizeTransfer() error {
	t := &c.Transfer
	if strings.TrimSpace(t.Host) == "" {
		if value, ok := os.LookupEnv(envSFTPHost); ok {
			t.Host = value
		}
	}
	t.Host = strings.TrimSpace(t.Host)
	if value, ok := os.LookupEnv(envSFTPPort); ok && strings.TrimSpace(value) != "" && (t.Port == 0 || t.Port == defaultTransferPort) {
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", envSFTPPort, value)
		}
		t.Port = port
	}
	if t.Port == 0 {
		t.Port = defaultTransferPort
	}
	if strings.TrimSpace(t.Username) == "" {
		if value, ok := os.LookupEnv(envSFTPUsername); ok {
			t.Username = value
		}
	}
	t.Username = strings.TrimSpace(t.Username)
	if t.Password == "" {
		if value, ok := os.LookupEnv(envSFTPPassword); ok {
			t.Password = value
		}
	}
	t.RemoteDir = strings.TrimSpace(t.RemoteDir)
	if t.RemoteDir == "" {
		t.RemoteDir = defaultRemoteDir
	}
	var err error
	if t.KnownHosts, err = expandOptional(t.KnownHosts); err != nil {
		return fmt.Errorf("transfer.known_hosts: %w", err)
	}
	if t.ChunkSize == 0 {
		t.ChunkSize = defaultChunkSize
	}
	if t.Concurrency == 0 {
		t.Concurrency = defaultTransferConcurrency
	}
	if t.DialTimeoutSeconds <= 0 {
		t.DialTimeoutSeconds = defaultDialTimeout
	}
	return nil
}

func (c *Config) normalizeCaptioner() error {
	c.Captioner.Binary = strings.TrimSpace(c.Captioner.Binary)
	if c.Captioner.Binary == "" {
		c.Captioner.Binary = defaultCaptionerBinary
	}
	var err error
	if c.Captioner.Script, err = expandOptional(c.Captioner.Script); err != nil {
		return fmt.Errorf("captioner.script: %w", err)
	}
	annotations := strings.TrimSpace(c.Captioner.AnnotationsPath)
	if annotations == "" {
		annotations = defaultCaptionAnnotationsRel
	}
	// Relative annotation paths live next to the search script.
	if !filepath.IsAbs(annotations) && !strings.HasPrefix(annotations, "~") && c.Captioner.Script != "" {
		annotations = filepath.Join(filepath.Dir(c.Captioner.Script), annotations)
	}
	if c.Captioner.AnnotationsPath, err = expandPath(annotations); err != nil {
		return fmt.Errorf("captioner.annotations_path: %w", err)
	}
	if c.Captioner.TimeoutSeconds <= 0 {
		c.Captioner.TimeoutSeconds = defaultCaptionerTimeout
	}
	return nil
}

func (c *Config) normalizeInbox() error {
	if strings.TrimSpace(c.Inbox.Dir) == "" {
		c.Inbox.Dir = defaultInboxDir
	}
	var err error
	if c.Inbox.Dir, err = expandPath(c.Inbox.Dir); err != nil {
		return fmt.Errorf("inbox.dir: %w", err)
	}
	if c.Inbox.DebounceSeconds <= 0 {
		c.Inbox.DebounceSeconds = defaultInboxDebounceSeconds
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.MaxConcurrentItems < 0 {
		c.Pipeline.MaxConcurrentItems = 0
	}
	if c.Pipeline.SubscriberBuffer <= 0 {
		c.Pipeline.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.Staging.SweepIntervalMinutes < 0 {
		c.Staging.SweepIntervalMinutes = 0
	}
	if c.Staging.MaxAgeHours <= 0 {
		c.Staging.MaxAgeHours = defaultStagingMaxAgeHours
	}
}

func (c *Config) normalizeNotifications() {
	c.Notify.NtfyTopic = strings.TrimSpace(c.Notify.NtfyTopic)
	if c.Notify.NtfyTopic == "" {
		if value, ok := os.LookupEnv(envNtfyTopic); ok {
			c.Notify.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notify.RequestTimeoutSeconds <= 0 {
		c.Notify.RequestTimeoutSeconds = defaultNtfyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func expandOptional(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	return expandPath(value)
}
