package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	OIDC       OIDCConfig
	RateLimit  RateLimitConfig
	Storage    StorageConfig
	Pipeline   PipelineConfig
	FFmpeg     FFmpegConfig
	Fetcher    FetcherConfig
	R2         R2Config
	Transcribe TranscribeConfig
	History    HistoryConfig
	Gateway    GatewayConfig
}

type ServerConfig struct {
	Port       string
	Env        string
	LogLevel   string
	LogFormat  string
	PublicBase string
	BodyLimit  int // bytes
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
	// DevFallback accepts unauthenticated requests as a fixed dev user.
	DevFallback bool
}

type OIDCConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type RateLimitConfig struct {
	ClipPerHour   int
	JobsPerHour   int
	HistoryPerMin int
}

type StorageConfig struct {
	WorkDir       string
	PreviewDir    string
	ExportDir     string
	RetentionDays int
	SweepInterval time.Duration
}

// ProfileConfig is one re-encode tier.
type ProfileConfig struct {
	Height       int
	Preset       string
	CRF          int
	AudioBitrate string
	Timeout      time.Duration
}

type PipelineConfig struct {
	MaxConcurrency   int
	MaxClipSeconds   float64
	MaxSegments      int
	BatchPolicy      string
	DiagnosticLimit  int
	DefaultWatermark string
	CopyTimeout      time.Duration
	ExtractTimeout   time.Duration
	Preview          ProfileConfig
	Final            ProfileConfig
}

type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
}

type FetcherConfig struct {
	YtDlpPath         string
	Timeout           time.Duration
	HTTPTimeout       time.Duration
	RemuxTimeout      time.Duration
	HostedDomains     []string
	AllowPrivateHosts bool
	MaxDownloadMB     int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	// Endpoint overrides the account endpoint, for S3-compatible stores.
	Endpoint string
}

type TranscribeConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type HistoryConfig struct {
	ServiceURL string
	APIKey     string
	Timeout    time.Duration
}

type GatewayConfig struct {
	Enabled bool
}

var defaultHostedDomains = []string{
	"youtube.com", "youtu.be", "tiktok.com", "instagram.com",
	"facebook.com", "x.com", "twitter.com", "soundcloud.com", "vimeo.com",
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("GROQ_API_KEY")
	readSecret("HISTORY_API_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                "SERVER_PORT",
		"server.env":                 "SERVER_ENV",
		"server.log_level":           "LOG_LEVEL",
		"server.log_format":          "LOG_FORMAT",
		"server.public_base":         "PUBLIC_BASE",
		"server.body_limit_mb":       "BODY_LIMIT_MB",
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"redis.db":                   "REDIS_DB",
		"jwt.secret":                 "JWT_SECRET",
		"jwt.expiration":             "JWT_EXPIRATION",
		"jwt.dev_fallback":           "AUTH_DEV_FALLBACK",
		"oidc.domain":                "OIDC_DOMAIN",
		"oidc.client_id":             "OIDC_CLIENT_ID",
		"oidc.issuer":                "OIDC_ISSUER",
		"ratelimit.clip_per_hour":    "RATELIMIT_CLIP_PER_HOUR",
		"ratelimit.jobs_per_hour":    "RATELIMIT_JOBS_PER_HOUR",
		"ratelimit.history_per_min":  "RATELIMIT_HISTORY_PER_MIN",
		"storage.work_dir":           "WORK_DIR",
		"storage.preview_dir":        "PREVIEW_DIR",
		"storage.export_dir":         "EXPORT_DIR",
		"storage.retention_days":     "RETENTION_DAYS",
		"storage.sweep_interval":     "SWEEP_INTERVAL",
		"pipeline.max_concurrency":   "MAX_CONCURRENCY",
		"pipeline.max_clip_seconds":  "MAX_CLIP_SECONDS",
		"pipeline.max_segments":      "MAX_SEGMENTS",
		"pipeline.batch_policy":      "BATCH_POLICY",
		"pipeline.diagnostic_limit":  "DIAGNOSTIC_LIMIT",
		"pipeline.default_watermark": "DEFAULT_WATERMARK",
		"ffmpeg.ffmpeg_path":         "FFMPEG_PATH",
		"ffmpeg.ffprobe_path":        "FFPROBE_PATH",
		"fetcher.ytdlp_path":         "YTDLP_PATH",
		"fetcher.timeout":            "FETCH_TIMEOUT",
		"fetcher.remux_timeout":      "REMUX_TIMEOUT",
		"pipeline.extract_timeout":   "EXTRACT_TIMEOUT",
		"fetcher.allow_private":      "FETCH_ALLOW_PRIVATE_HOSTS",
		"fetcher.max_download_mb":    "FETCH_MAX_DOWNLOAD_MB",
		"r2.account_id":              "R2_ACCOUNT_ID",
		"r2.access_key_id":           "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":       "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":             "R2_BUCKET_NAME",
		"r2.public_url":              "R2_PUBLIC_URL",
		"r2.endpoint":                "R2_ENDPOINT",
		"transcribe.api_key":         "GROQ_API_KEY",
		"transcribe.base_url":        "GROQ_BASE_URL",
		"transcribe.model":           "TRANSCRIBE_MODEL",
		"history.service_url":        "HISTORY_SERVICE_URL",
		"history.api_key":            "HISTORY_API_KEY",
		"gateway.enabled":            "GATEWAY_ENABLED",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.body_limit_mb", 1024)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("jwt.dev_fallback", false)
	v.SetDefault("ratelimit.clip_per_hour", 30)
	v.SetDefault("ratelimit.jobs_per_hour", 20)
	v.SetDefault("ratelimit.history_per_min", 60)

	// Storage defaults
	v.SetDefault("storage.work_dir", "data/work")
	v.SetDefault("storage.preview_dir", "data/previews")
	v.SetDefault("storage.export_dir", "data/exports")
	v.SetDefault("storage.retention_days", 7)
	v.SetDefault("storage.sweep_interval", time.Hour)

	// Pipeline defaults
	v.SetDefault("pipeline.max_concurrency", 3)
	v.SetDefault("pipeline.max_clip_seconds", 3600)
	v.SetDefault("pipeline.max_segments", 10)
	v.SetDefault("pipeline.batch_policy", "isolate")
	v.SetDefault("pipeline.diagnostic_limit", 4000)
	v.SetDefault("pipeline.default_watermark", "@ClipForge")
	v.SetDefault("pipeline.copy_timeout", 5*time.Minute)
	v.SetDefault("pipeline.extract_timeout", 5*time.Minute)
	v.SetDefault("pipeline.preview.height", 480)
	v.SetDefault("pipeline.preview.preset", "veryfast")
	v.SetDefault("pipeline.preview.crf", 28)
	v.SetDefault("pipeline.preview.audio_bitrate", "128k")
	v.SetDefault("pipeline.preview.timeout", 10*time.Minute)
	v.SetDefault("pipeline.final.height", 1080)
	v.SetDefault("pipeline.final.preset", "faster")
	v.SetDefault("pipeline.final.crf", 20)
	v.SetDefault("pipeline.final.audio_bitrate", "192k")
	v.SetDefault("pipeline.final.timeout", 30*time.Minute)

	// Subprocess defaults
	v.SetDefault("ffmpeg.ffmpeg_path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")
	v.SetDefault("fetcher.ytdlp_path", "yt-dlp")
	v.SetDefault("fetcher.timeout", 15*time.Minute)
	v.SetDefault("fetcher.http_timeout", 10*time.Minute)
	v.SetDefault("fetcher.remux_timeout", 5*time.Minute)
	v.SetDefault("fetcher.hosted_domains", defaultHostedDomains)
	v.SetDefault("fetcher.allow_private", false)
	v.SetDefault("fetcher.max_download_mb", 2048)

	// Transcription defaults
	v.SetDefault("transcribe.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("transcribe.model", "whisper-large-v3")
	v.SetDefault("transcribe.timeout", 5*time.Minute)

	v.SetDefault("history.timeout", 10*time.Second)
	v.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:       v.GetString("server.port"),
			Env:        v.GetString("server.env"),
			LogLevel:   v.GetString("server.log_level"),
			LogFormat:  v.GetString("server.log_format"),
			PublicBase: strings.TrimRight(v.GetString("server.public_base"), "/"),
			BodyLimit:  v.GetInt("server.body_limit_mb") * 1024 * 1024,
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("jwt.secret"),
			Expiration:  v.GetInt("jwt.expiration"),
			DevFallback: v.GetBool("jwt.dev_fallback"),
		},
		OIDC: OIDCConfig{
			Domain:   v.GetString("oidc.domain"),
			ClientID: v.GetString("oidc.client_id"),
			Issuer:   v.GetString("oidc.issuer"),
		},
		RateLimit: RateLimitConfig{
			ClipPerHour:   v.GetInt("ratelimit.clip_per_hour"),
			JobsPerHour:   v.GetInt("ratelimit.jobs_per_hour"),
			HistoryPerMin: v.GetInt("ratelimit.history_per_min"),
		},
		Storage: StorageConfig{
			WorkDir:       v.GetString("storage.work_dir"),
			PreviewDir:    v.GetString("storage.preview_dir"),
			ExportDir:     v.GetString("storage.export_dir"),
			RetentionDays: v.GetInt("storage.retention_days"),
			SweepInterval: v.GetDuration("storage.sweep_interval"),
		},
		Pipeline: PipelineConfig{
			MaxConcurrency:   v.GetInt("pipeline.max_concurrency"),
			MaxClipSeconds:   v.GetFloat64("pipeline.max_clip_seconds"),
			MaxSegments:      v.GetInt("pipeline.max_segments"),
			BatchPolicy:      v.GetString("pipeline.batch_policy"),
			DiagnosticLimit:  v.GetInt("pipeline.diagnostic_limit"),
			DefaultWatermark: v.GetString("pipeline.default_watermark"),
			CopyTimeout:      v.GetDuration("pipeline.copy_timeout"),
			ExtractTimeout:   v.GetDuration("pipeline.extract_timeout"),
			Preview:          loadProfile(v, "pipeline.preview"),
			Final:            loadProfile(v, "pipeline.final"),
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:  v.GetString("ffmpeg.ffmpeg_path"),
			FFprobePath: v.GetString("ffmpeg.ffprobe_path"),
		},
		Fetcher: FetcherConfig{
			YtDlpPath:         v.GetString("fetcher.ytdlp_path"),
			Timeout:           v.GetDuration("fetcher.timeout"),
			HTTPTimeout:       v.GetDuration("fetcher.http_timeout"),
			RemuxTimeout:      v.GetDuration("fetcher.remux_timeout"),
			HostedDomains:     v.GetStringSlice("fetcher.hosted_domains"),
			AllowPrivateHosts: v.GetBool("fetcher.allow_private"),
			MaxDownloadMB:     v.GetInt("fetcher.max_download_mb"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
			Endpoint:        v.GetString("r2.endpoint"),
		},
		Transcribe: TranscribeConfig{
			APIKey:  v.GetString("transcribe.api_key"),
			BaseURL: v.GetString("transcribe.base_url"),
			Model:   v.GetString("transcribe.model"),
			Timeout: v.GetDuration("transcribe.timeout"),
		},
		History: HistoryConfig{
			ServiceURL: strings.TrimRight(v.GetString("history.service_url"), "/"),
			APIKey:     v.GetString("history.api_key"),
			Timeout:    v.GetDuration("history.timeout"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}

func loadProfile(v *viper.Viper, prefix string) ProfileConfig {
	return ProfileConfig{
		Height:       v.GetInt(prefix + ".height"),
		Preset:       v.GetString(prefix + ".preset"),
		CRF:          v.GetInt(prefix + ".crf"),
		AudioBitrate: v.GetString(prefix + ".audio_bitrate"),
		Timeout:      v.GetDuration(prefix + ".timeout"),
	}
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8000", Env: "development", LogLevel: "info", LogFormat: "json", BodyLimit: 1024 * 1024 * 1024},
		Storage: StorageConfig{
			WorkDir:       "data/work",
			PreviewDir:    "data/previews",
			ExportDir:     "data/exports",
			RetentionDays: 7,
			SweepInterval: time.Hour,
		},
		Pipeline: PipelineConfig{
			MaxConcurrency:   3,
			MaxClipSeconds:   3600,
			MaxSegments:      10,
			BatchPolicy:      "isolate",
			DiagnosticLimit:  4000,
			DefaultWatermark: "@ClipForge",
			CopyTimeout:      5 * time.Minute,
			ExtractTimeout:   5 * time.Minute,
			Preview:          ProfileConfig{Height: 480, Preset: "veryfast", CRF: 28, AudioBitrate: "128k", Timeout: 10 * time.Minute},
			Final:            ProfileConfig{Height: 1080, Preset: "faster", CRF: 20, AudioBitrate: "192k", Timeout: 30 * time.Minute},
		},
		FFmpeg: FFmpegConfig{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"},
		Fetcher: FetcherConfig{
			YtDlpPath:     "yt-dlp",
			Timeout:       15 * time.Minute,
			HTTPTimeout:   10 * time.Minute,
			RemuxTimeout:  5 * time.Minute,
			HostedDomains: append([]string(nil), defaultHostedDomains...),
			MaxDownloadMB: 2048,
		},
		Transcribe: TranscribeConfig{BaseURL: "https://api.groq.com/openai/v1", Model: "whisper-large-v3", Timeout: 5 * time.Minute},
		History:    HistoryConfig{Timeout: 10 * time.Second},
	}
}
