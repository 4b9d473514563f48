package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Supported distance metrics for embedding comparisons.
const (
	DistanceEuclidean       = "l2"
	DistanceCosine          = "cosine"
	DistanceMaxInnerProduct = "inner"
)

// Config stores the library configuration.
type Config struct {
	LogLevel string
	LogFile  string

	// LibraryPlugin selects the relational store: "default"/"sqlite" keeps an
	// embedded database under LibraryPath, "mysql" uses the DB* settings.
	LibraryPlugin string
	LibraryPath   string
	UserID        string
	UserName      string

	DefaultSR         int
	CopyToLibrary     bool
	AutoConvert       bool
	SkipDuplicate     bool
	ReplacePluginData bool

	MaxThreads      int
	BatchSize       int
	StreamMode      bool
	StreamChunkSize int

	DefaultDistance string
	EmbeddingPlugin string // empty means: first registered plugin that can embed text
	Plugins         []string

	SignalCacheSize int
	SignalCacheTTL  time.Duration

	StorageDriver  string // "local" or "minio"
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string // empty disables the redis signal cache
	RedisPort     string
	RedisPassword string
	RedisDB       int

	FFmpegPath string
	ServerAddr string
	JWTSecret  string
	JWTTTL     time.Duration
}

// source resolves a setting from the environment first and from an optional
// config file second.
type source struct {
	env  bool
	file *viper.Viper
}

func (s source) raw(key string) (string, bool) {
	if s.env {
		if value, exists := os.LookupEnv(key); exists {
			return value, true
		}
	}
	if s.file != nil {
		fileKey := strings.ToLower(strings.TrimPrefix(key, "NENDO_"))
		if s.file.IsSet(fileKey) {
			return s.file.GetString(fileKey), true
		}
	}
	return "", false
}

// getEnv gets a setting or returns a default value.
func (s source) getEnv(key, fallback string) string {
	if value, ok := s.raw(key); ok {
		return value
	}
	return fallback
}

// getEnvInt gets a setting as int or returns a default value.
func (s source) getEnvInt(key string, fallback int) int {
	if value, ok := s.raw(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func (s source) getEnvBool(key string, fallback bool) bool {
	if value, ok := s.raw(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func (s source) getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := s.raw(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) getEnvList(key string) []string {
	value, ok := s.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file), an
// optional config file named by NENDO_CONFIG_FILE, and defaults.
func Load() *Config {
	// godotenv.Load() does not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	src := source{env: true}
	if path := os.Getenv("NENDO_CONFIG_FILE"); path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("Could not read config file %s: %v", path, err)
		} else {
			src.file = v
		}
	}
	return load(src)
}

func load(src source) *Config {
	libraryPath := src.getEnv("NENDO_LIBRARY_PATH", "nendo_library")

	return &Config{
		LogLevel:          src.getEnv("NENDO_LOG_LEVEL", "warn"),
		LogFile:           src.getEnv("NENDO_LOG_FILE", ""),
		LibraryPlugin:     src.getEnv("NENDO_LIBRARY_PLUGIN", "default"),
		LibraryPath:       libraryPath,
		UserID:            src.getEnv("NENDO_USER_ID", "ffffffff-1111-2222-3333-1234567890ab"),
		UserName:          src.getEnv("NENDO_USER_NAME", "nendo"),
		DefaultSR:         src.getEnvInt("NENDO_DEFAULT_SR", 44100),
		CopyToLibrary:     src.getEnvBool("NENDO_COPY_TO_LIBRARY", true),
		AutoConvert:       src.getEnvBool("NENDO_AUTO_CONVERT", true),
		SkipDuplicate:     src.getEnvBool("NENDO_SKIP_DUPLICATE", true),
		ReplacePluginData: src.getEnvBool("NENDO_REPLACE_PLUGIN_DATA", false),
		MaxThreads:        src.getEnvInt("NENDO_MAX_THREADS", 2),
		BatchSize:         src.getEnvInt("NENDO_BATCH_SIZE", 10),
		StreamMode:        src.getEnvBool("NENDO_STREAM_MODE", false),
		StreamChunkSize:   src.getEnvInt("NENDO_STREAM_CHUNK_SIZE", 1),
		DefaultDistance:   src.getEnv("NENDO_DEFAULT_DISTANCE", DistanceCosine),
		EmbeddingPlugin:   src.getEnv("NENDO_EMBEDDING_PLUGIN", ""),
		Plugins:           src.getEnvList("NENDO_PLUGINS"),
		SignalCacheSize:   src.getEnvInt("NENDO_SIGNAL_CACHE_SIZE", 32),
		SignalCacheTTL:    src.getEnvDuration("NENDO_SIGNAL_CACHE_TTL", 30*time.Minute),
		StorageDriver:     src.getEnv("NENDO_STORAGE_DRIVER", "local"),
		MinioEndpoint:     src.getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:    src.getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:    src.getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:       src.getEnv("MINIO_BUCKET", "nendo"),
		MinioUseSSL:       src.getEnvBool("MINIO_USE_SSL", false),
		DBHost:            src.getEnv("DB_HOST", "127.0.0.1"),
		DBPort:            src.getEnv("DB_PORT", "3306"),
		DBUser:            src.getEnv("DB_USER", "root"),
		DBPassword:        src.getEnv("DB_PASSWORD", ""),
		DBName:            src.getEnv("DB_NAME", "nendo"),
		RedisHost:         src.getEnv("REDIS_HOST", ""),
		RedisPort:         src.getEnv("REDIS_PORT", "6379"),
		RedisPassword:     src.getEnv("REDIS_PASSWORD", ""),
		RedisDB:           src.getEnvInt("REDIS_DB", 0),
		FFmpegPath:        src.getEnv("FFMPEG_PATH", "ffmpeg"),
		ServerAddr:        src.getEnv("NENDO_SERVER_ADDR", ":8080"),
		JWTSecret:         src.getEnv("NENDO_JWT_SECRET", ""),
		JWTTTL:            src.getEnvDuration("NENDO_JWT_TTL", 24*time.Hour),
	}
}

// Validate checks the settings the library cannot run without.
func (c *Config) Validate() error {
	if c.MaxThreads <= 0 {
		return fmt.Errorf("%w: max_threads must be positive, got %d", ErrInvalidConfig, c.MaxThreads)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.StreamChunkSize <= 0 {
		return fmt.Errorf("%w: stream_chunk_size must be positive, got %d", ErrInvalidConfig, c.StreamChunkSize)
	}
	if c.DefaultSR <= 0 {
		return fmt.Errorf("%w: default_sr must be positive, got %d", ErrInvalidConfig, c.DefaultSR)
	}
	switch c.DefaultDistance {
	case DistanceEuclidean, DistanceCosine, DistanceMaxInnerProduct:
	default:
		return fmt.Errorf("%w: unknown distance metric %q", ErrInvalidConfig, c.DefaultDistance)
	}
	switch c.StorageDriver {
	case "local", "minio":
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.StorageDriver)
	}
	switch c.LibraryPlugin {
	case "default", "sqlite", "mysql":
	default:
		return fmt.Errorf("%w: unknown library plugin %q", ErrInvalidConfig, c.LibraryPlugin)
	}
	return nil
}

// SQLitePath is the embedded database file used by the default library.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.LibraryPath, "nendo.db")
}

// Default returns the built-in defaults without reading env or files.
func Default() *Config {
	return load(source{})
}
