package config

const (
	defaultDataDir              = "~/.local/share/scour"
	defaultLogDir               = "~/.local/share/scour/logs"
	defaultAPIBind              = "127.0.0.1:7519"
	defaultRemoteRequestTimeout = 30
	defaultRemoteAwaitTimeout   = 300
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultMaxRetries           = 3
	defaultDrainSessionLimit    = 20
	defaultDrainBatchLimit      = 30
	defaultRetentionHours       = 24
	defaultPageSize             = 30
	defaultMaxKeywords          = 3
	defaultOversample           = 1.3
	defaultMinDiscovery         = 3
	defaultStage2RefCap         = 30
	defaultStage3OwnerCap       = 60
	defaultBackfillRounds       = 0
	defaultCreditsPerPage       = 100
	defaultNotifyTimeout        = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Remote: Remote{
			RequestTimeout: defaultRemoteRequestTimeout,
			AwaitTimeout:   defaultRemoteAwaitTimeout,
		},
		Queue: Queue{
			MaxRetries:        defaultMaxRetries,
			DrainSessionLimit: defaultDrainSessionLimit,
			DrainBatchLimit:   defaultDrainBatchLimit,
			RetentionHours:    defaultRetentionHours,
		},
		Pipeline: Pipeline{
			PageSize:       defaultPageSize,
			MaxKeywords:    defaultMaxKeywords,
			Oversample:     defaultOversample,
			MinDiscovery:   defaultMinDiscovery,
			Stage2RefCap:   defaultStage2RefCap,
			Stage3OwnerCap: defaultStage3OwnerCap,
			BackfillRounds: defaultBackfillRounds,
		},
		Credits: Credits{
			PerPage: defaultCreditsPerPage,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
