package config

const (
	defaultConfigPath            = "~/.config/imagepipe/config.toml"
	defaultUploadDir             = "~/.local/share/imagepipe/uploads"
	defaultOutputDir             = "~/.local/share/imagepipe/output"
	defaultLogDir                = "~/.local/share/imagepipe/logs"
	defaultInboxDir              = "~/.local/share/imagepipe/inbox"
	defaultAPIBind               = "127.0.0.1:3000"
	defaultMaxUploadMB           = 256
	defaultEnhancerBinary        = "realesrgan"
	defaultEnhancerTile          = 256
	defaultEnhancerTimeout       = 600
	defaultTransferPort          = 22
	defaultRemoteDir             = "/remote/path"
	defaultChunkSize             = 32768
	defaultTransferConcurrency   = 64
	defaultDialTimeout           = 15
	defaultKeepAlive             = 15
	defaultEnhanceDone           = 0.1
	defaultTransferStart         = 0.5
	defaultSubscriberBuffer      = 64
	defaultCaptionerBinary       = "python3"
	defaultCaptionerTimeout      = 300
	defaultSweepIntervalMinutes  = 30
	defaultStagingMaxAgeHours    = 24
	defaultInboxDebounceSeconds  = 2
	defaultNtfyTimeout           = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	maxTransferConcurrency       = 1024
	minChunkSize                 = 1024
	maxChunkSize                 = 256 * 1024
	defaultCaptionBatchSize      = 32
	defaultCaptionSamples        = 600
	defaultCaptionResults        = 10
	envSFTPHost                  = "SFTP_HOST"
	envSFTPPort                  = "SFTP_PORT"
	envSFTPUsername              = "SFTP_USERNAME"
	envSFTPPassword              = "SFTP_PASSWORD"
	envEnhancerModel             = "ESRGAN_MODEL_FILE_PATH"
	envAPIToken                  = "IMAGEPIPE_API_TOKEN"
	envNtfyTopic                 = "IMAGEPIPE_NTFY_TOPIC"
	defaultCaptionAnnotationsRel = "annotations/captions_train2017.json"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			UploadDir:   defaultUploadDir,
			OutputDir:   defaultOutputDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
			MaxUploadMB: defaultMaxUploadMB,
			CORSOrigins: []string{"*"},
		},
		Enhancer: Enhancer{
			Binary:         defaultEnhancerBinary,
			Tile:           defaultEnhancerTile,
			TimeoutSeconds: defaultEnhancerTimeout,
		},
		Transfer: Transfer{
			Port:               defaultTransferPort,
			RemoteDir:          defaultRemoteDir,
			ChunkSize:          defaultChunkSize,
			Concurrency:        defaultTransferConcurrency,
			DialTimeoutSeconds: defaultDialTimeout,
			KeepAliveSeconds:   defaultKeepAlive,
		},
		Pipeline: Pipeline{
			EnhanceDone:      defaultEnhanceDone,
			TransferStart:    defaultTransferStart,
			SubscriberBuffer: defaultSubscriberBuffer,
		},
		Captioner: Captioner{
			Binary:          defaultCaptionerBinary,
			AnnotationsPath: defaultCaptionAnnotationsRel,
			TimeoutSeconds:  defaultCaptionerTimeout,
		},
		Staging: Staging{
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
			MaxAgeHours:          defaultStagingMaxAgeHours,
		},
		Inbox: Inbox{
			Dir:             defaultInboxDir,
			DebounceSeconds: defaultInboxDebounceSeconds,
		},
		Notify: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

// CaptionDefaults returns the batch size, annotation sample count, and result
// count used when a caption request does not override them.
func CaptionDefaults() (batchSize, samples, results int) {
	return defaultCaptionBatchSize, defaultCaptionSamples, defaultCaptionResults
}
