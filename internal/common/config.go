package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Fetcher     FetcherConfig    `toml:"fetcher"`
	Storage     StorageConfig    `toml:"storage"`
	Downloader  DownloaderConfig `toml:"downloader"`
	Logging     LoggingConfig    `toml:"logging"`
}

// FetcherConfig controls the browser-backed tweet fetcher and crawl loop
type FetcherConfig struct {
	URLList              string `toml:"url_list" validate:"required"`        // Input URL list file
	Headless             bool   `toml:"headless"`                            // Run Chrome headless
	ChromeDataDir        string `toml:"chrome_data_dir" validate:"required"` // Profile dir for the anonymous session
	ChromeDataDirLogin   string `toml:"chrome_data_dir_login"`               // Profile dir for the logged-in session
	NoLogin              bool   `toml:"no_login"`                            // Skip the authenticated tier entirely
	MustLogin            bool   `toml:"must_login"`                          // Skip the anonymous tier, authenticated only
	ManualLogin          bool   `toml:"manual_login"`                        // Operator drives login in a visible browser
	Username             string `toml:"username"`
	Password             string `toml:"password"`
	VerificationUsername string `toml:"verification_username"` // Answer for the extra verification prompt
	MaxAuthRounds        int    `toml:"max_auth_rounds" validate:"min=1"`
}

// StorageConfig holds the SQLite database paths
type StorageConfig struct {
	RawCachePath   string       `toml:"raw_cache_path" validate:"required"`   // id -> raw payload cache (crawl checkpoint)
	TweetStorePath string       `toml:"tweet_store_path" validate:"required"` // parsed tweet/media/thread/fail store
	SQLite         SQLiteConfig `toml:"sqlite"`
}

// SQLiteConfig holds driver-level settings shared by both database files
type SQLiteConfig struct {
	CacheSizeMB   int  `toml:"cache_size_mb" validate:"min=1"`
	BusyTimeoutMS int  `toml:"busy_timeout_ms" validate:"min=0"`
	WALMode       bool `toml:"wal_mode"`
}

// DownloaderConfig controls the media download pool
type DownloaderConfig struct {
	DestDir     string        `toml:"dest_dir" validate:"required"` // Destination tree: dest_dir/<author>/<filename>
	Concurrency int           `toml:"concurrency" validate:"min=1"`
	Timeout     time.Duration `toml:"timeout"`    // Per-request HTTP timeout
	UserAgent   string        `toml:"user_agent"` // Sent with media requests
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Fetcher: FetcherConfig{
			URLList:            "todo.txt",
			Headless:           true,
			ChromeDataDir:      "chrome-data",
			ChromeDataDirLogin: "chrome-data-login",
			MaxAuthRounds:      5,
		},
		Storage: StorageConfig{
			RawCachePath:   "dl.sqlite",
			TweetStorePath: "tw.sqlite",
			SQLite: SQLiteConfig{
				CacheSizeMB:   10,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
		},
		Downloader: DownloaderConfig{
			DestDir:     "TweetMedias",
			Concurrency: 8,
			Timeout:     30 * time.Second,
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against struct validation tags
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Fetcher.MustLogin && c.Fetcher.NoLogin {
		return fmt.Errorf("invalid configuration: must_login and no_login are mutually exclusive")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PETREL_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if urlList := os.Getenv("PETREL_URL_LIST"); urlList != "" {
		config.Fetcher.URLList = urlList
	}
	if dataDir := os.Getenv("PETREL_CHROME_DATA_DIR"); dataDir != "" {
		config.Fetcher.ChromeDataDir = dataDir
	}
	if dataDir := os.Getenv("PETREL_CHROME_DATA_DIR_LOGIN"); dataDir != "" {
		config.Fetcher.ChromeDataDirLogin = dataDir
	}
	if username := os.Getenv("PETREL_USERNAME"); username != "" {
		config.Fetcher.Username = username
	}
	if password := os.Getenv("PETREL_PASSWORD"); password != "" {
		config.Fetcher.Password = password
	}
	if headless := os.Getenv("PETREL_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Fetcher.Headless = b
		}
	}
	if rounds := os.Getenv("PETREL_MAX_AUTH_ROUNDS"); rounds != "" {
		if n, err := strconv.Atoi(rounds); err == nil && n > 0 {
			config.Fetcher.MaxAuthRounds = n
		}
	}

	if path := os.Getenv("PETREL_RAW_CACHE_PATH"); path != "" {
		config.Storage.RawCachePath = path
	}
	if path := os.Getenv("PETREL_TWEET_STORE_PATH"); path != "" {
		config.Storage.TweetStorePath = path
	}

	if destDir := os.Getenv("PETREL_DEST_DIR"); destDir != "" {
		config.Downloader.DestDir = destDir
	}
	if concurrency := os.Getenv("PETREL_DL_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil && n > 0 {
			config.Downloader.Concurrency = n
		}
	}

	if level := os.Getenv("PETREL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
