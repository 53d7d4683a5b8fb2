package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Provider ProviderConfig `toml:"provider"`
	Cache    CacheConfig    `toml:"cache"`
	Playback PlaybackConfig `toml:"playback"`
	Player   PlayerConfig   `toml:"player"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ProviderConfig selects and configures the remote stream provider.
//
// Kind is either "proxy" (the YouTube Music proxy) or "youtube" (direct resolution).
type ProviderConfig struct {
	Kind              string  `toml:"kind"`
	BaseURL           string  `toml:"base_url"`
	Token             string  `toml:"token"`
	AuthFile          string  `toml:"auth_file"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// Timeout returns the per-request network timeout.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// CacheConfig contains byte cache settings for both layers.
type CacheConfig struct {
	Dir             string      `toml:"dir"`
	PlayerMaxMB     int64       `toml:"player_max_mb"`
	ChunkKB         int64       `toml:"chunk_kb"`
	DownloadBackend string      `toml:"download_backend"`
	Minio           MinioConfig `toml:"minio"`
}

// ChunkLength returns the network read cap in bytes.
func (c CacheConfig) ChunkLength() int64 {
	if c.ChunkKB <= 0 {
		return 512 * 1024
	}
	return c.ChunkKB * 1024
}

// MinioConfig contains object storage settings for the download cache.
type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
	Prefix    string `toml:"prefix"`
}

// PlaybackConfig is the read-only settings surface consumed by the engine.
type PlaybackConfig struct {
	Quality                 string  `toml:"quality"`
	Metered                 bool    `toml:"metered"`
	Normalize               bool    `toml:"normalize"`
	SkipSilence             bool    `toml:"skip_silence"`
	AudioOffload            bool    `toml:"audio_offload"`
	SkipOnError             bool    `toml:"skip_on_error"`
	MaxConsecutiveErrors    int     `toml:"max_consecutive_errors"`
	PersistQueue            bool    `toml:"persist_queue"`
	SnapshotPath            string  `toml:"snapshot_path"`
	SnapshotIntervalSeconds int     `toml:"snapshot_interval_seconds"`
	MinPlayFraction         float64 `toml:"min_play_fraction"`
	FilterExplicit          bool    `toml:"filter_explicit"`
	StopOnMute              bool    `toml:"stop_on_mute"`
	PauseListenHistory      bool    `toml:"pause_listen_history"`
	RemoteHistory           bool    `toml:"remote_history"`
	Volume                  float64 `toml:"volume"`
}

// SnapshotInterval returns the persistence timer period.
func (p PlaybackConfig) SnapshotInterval() time.Duration {
	if p.SnapshotIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.SnapshotIntervalSeconds) * time.Second
}

// PlayerConfig configures the decoder and audio output of the PCM player.
type PlayerConfig struct {
	FFmpegPath    string   `toml:"ffmpeg_path"`
	OutputCommand []string `toml:"output_command"`
}

// ServerConfig contains HTTP control API settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays secrets from the environment (and an optional .env file) onto the config.
func ApplyEnv(config *Config) {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv("YTPLAY_PROVIDER_TOKEN"); ok {
		config.Provider.Token = v
	}
	if v, ok := os.LookupEnv("YTPLAY_PROVIDER_AUTH_FILE"); ok {
		config.Provider.AuthFile = v
	}
	if v, ok := os.LookupEnv("YTPLAY_MINIO_ACCESS_KEY"); ok {
		config.Cache.Minio.AccessKey = v
	}
	if v, ok := os.LookupEnv("YTPLAY_MINIO_SECRET_KEY"); ok {
		config.Cache.Minio.SecretKey = v
	}
}
