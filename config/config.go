package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, loaded from an optional YAML
// file with environment variables taking precedence for credentials.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Upload   UploadConfig   `yaml:"upload"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Worker   WorkerConfig   `yaml:"worker"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int32  `yaml:"maxOpenConns"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// StorageConfig selects the content store backend. Backend is one of
// "local", "minio" or "s3"; the implementations are interchangeable.
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	LocalDir  string `yaml:"localDir"`
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
}

type UploadConfig struct {
	MaxSizeBytes     int64         `yaml:"maxSizeBytes"`
	AllowedMimeTypes []string      `yaml:"allowedMimeTypes"`
	StagingDir       string        `yaml:"stagingDir"`
	SessionTTL       time.Duration `yaml:"sessionTTL"`
	SweepInterval    time.Duration `yaml:"sweepInterval"`
}

type ChunkingConfig struct {
	TargetTokens  int `yaml:"targetTokens"`
	OverlapTokens int `yaml:"overlapTokens"`
	MinTokens     int `yaml:"minTokens"`
}

type WorkerConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	MaxRetries     int           `yaml:"maxRetries"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay"`
	ParseTimeout   time.Duration `yaml:"parseTimeout"`
}

// ScannerConfig controls malware scanning. FailClosed decides what happens
// when the scanner is unreachable: true rejects the upload, false lets it
// through.
type ScannerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ClamdAddr  string `yaml:"clamdAddr"`
	FailClosed bool   `yaml:"failClosed"`
}

type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			URL:          "postgres://localhost:5432/docpipe",
			MaxOpenConns: 20,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: "data/blobs",
			Bucket:   "documents",
		},
		Upload: UploadConfig{
			MaxSizeBytes: 50 * 1024 * 1024,
			AllowedMimeTypes: []string{
				"application/pdf",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				"text/plain",
			},
			StagingDir:    "data/staging",
			SessionTTL:    24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  512,
			OverlapTokens: 50,
			MinTokens:     100,
		},
		Worker: WorkerConfig{
			Concurrency:    5,
			MaxRetries:     3,
			RetryBaseDelay: 30 * time.Second,
			RetryMaxDelay:  10 * time.Minute,
			ParseTimeout:   300 * time.Second,
		},
		Scanner: ScannerConfig{
			Enabled:    false,
			ClamdAddr:  "tcp://localhost:3310",
			FailClosed: true,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout"},
		},
	}
}

// Load reads the YAML file at path (if it exists) on top of the defaults,
// then applies environment overrides. A missing file is not an error so the
// binaries can run on defaults plus env alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr(&c.Database.URL, "DATABASE_URL")
	setStr(&c.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Storage.Backend, "STORAGE_BACKEND")
	setStr(&c.Storage.Endpoint, "STORAGE_ENDPOINT")
	setStr(&c.Storage.Bucket, "STORAGE_BUCKET")
	setStr(&c.Storage.Region, "STORAGE_REGION")
	setStr(&c.Storage.AccessKey, "STORAGE_ACCESS_KEY")
	setStr(&c.Storage.SecretKey, "STORAGE_SECRET_KEY")
	setStr(&c.Scanner.ClamdAddr, "CLAMD_ADDR")
	setBool(&c.Scanner.Enabled, "SCANNER_ENABLED")
	setInt(&c.Worker.Concurrency, "WORKER_CONCURRENCY")
}

func (c *Config) validate() error {
	if c.Upload.MaxSizeBytes <= 0 {
		return fmt.Errorf("upload.maxSizeBytes must be positive")
	}
	if c.Chunking.TargetTokens <= 0 || c.Chunking.MinTokens <= 0 {
		return fmt.Errorf("chunking token sizes must be positive")
	}
	if c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		return fmt.Errorf("chunking.overlapTokens must be below targetTokens")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
