package config

// Config aggregates the configuration surfaces the server consumes.
type Config interface {
	EnvConfig
	CorsConfig
}

// EnvConfig holds process-level settings sourced from the environment.
type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseDomain() string
	GetEnv() string
	GetLogLevel() string
}

// CorsConfig controls cross-origin access to the API endpoints.
type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
}

func New() Config {
	return mainConfig{}
}
