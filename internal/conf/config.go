// config.go: settings for the harvest orchestration core. Defines the
// settings struct tree and functions to load and save the settings.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to log file
}

// MainSettings contains main application settings
type MainSettings struct {
	Name string    // name of the instance, used in logs
	Log  LogConfig // main log configuration
}

// SQLiteSettings contains SQLite database settings
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite
	Path    string // path to the database file
}

// MySQLSettings contains MySQL database settings
type MySQLSettings struct {
	Enabled  bool   // true to enable MySQL
	Username string // MySQL username
	Password string // MySQL password
	Database string // MySQL database name
	Host     string // MySQL host
	Port     string // MySQL port
}

// DatabaseSettings contains the durable store configuration
type DatabaseSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// WorkerSettings contains settings for the external satellite worker
type WorkerSettings struct {
	BaseURL string // base URL of the satellite processing worker
	Timeout int    // per-call timeout in seconds
	APIKey  string // optional bearer token for the worker API
}

// QueueSettings contains settings for the harvest request queue
type QueueSettings struct {
	BatchLimit     int // maximum queue items processed per dispatcher invocation
	MaxRetries     int // retry budget before an item is marked failed
	RetentionHours int // failed items older than this are purged
}

// ReaperSettings contains settings for the stuck-item reaper
type ReaperSettings struct {
	IntervalMinutes   int // how often the reaper runs in serve mode
	StuckAfterMinutes int // processing items older than this are reset
}

// HarvestSettings contains settings for batch grouping and tile lookup
type HarvestSettings struct {
	DefaultTile         string // fallback tile when geometry matches no grid rule
	FreshWindowHours    int    // observations older than this mark a parcel stale
	NewParcelWindowDays int    // parcels created within this window count as new
	IntervalMinutes     int    // dispatch loop interval in serve mode
}

// QuotaSettings contains per-plan harvest quota ceilings
type QuotaSettings struct {
	DefaultLimit int            // monthly ceiling when the plan is unknown
	PlanLimits   map[string]int // monthly ceiling per subscription plan
}

// WebServerSettings contains settings for the HTTP API server
type WebServerSettings struct {
	Enabled bool   // true to enable the API server
	Port    string // port to listen on
}

// Settings is the root of the configuration tree
type Settings struct {
	Debug bool // true to enable debug logging

	Main      MainSettings
	Database  DatabaseSettings
	Worker    WorkerSettings
	Queue     QueueSettings
	Reaper    ReaperSettings
	Harvest   HarvestSettings
	Quota     QuotaSettings
	WebServer WebServerSettings
}

// WorkerTimeout returns the worker call timeout as a duration.
func (s *Settings) WorkerTimeout() time.Duration {
	if s.Worker.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.Worker.Timeout) * time.Second
}

// StuckThreshold returns the reaper stuck-item threshold as a duration.
func (s *Settings) StuckThreshold() time.Duration {
	if s.Reaper.StuckAfterMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.Reaper.StuckAfterMinutes) * time.Minute
}

// FailedRetention returns the failed-item retention window as a duration.
func (s *Settings) FailedRetention() time.Duration {
	if s.Queue.RetentionHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.Queue.RetentionHours) * time.Hour
}

// DispatchInterval returns how often the serve loop runs the dispatcher.
func (s *Settings) DispatchInterval() time.Duration {
	if s.Harvest.IntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.Harvest.IntervalMinutes) * time.Minute
}

// ReaperInterval returns how often the serve loop runs the reaper sweep.
func (s *Settings) ReaperInterval() time.Duration {
	if s.Reaper.IntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.Reaper.IntervalMinutes) * time.Minute
}

// FreshWindow returns how long an observation keeps a parcel fresh.
func (s *Settings) FreshWindow() time.Duration {
	if s.Harvest.FreshWindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.Harvest.FreshWindowHours) * time.Hour
}

// NewParcelWindow returns how long a parcel counts as newly created.
func (s *Settings) NewParcelWindow() time.Duration {
	if s.Harvest.NewParcelWindowDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(s.Harvest.NewParcelWindowDays) * 24 * time.Hour
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into the settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file present, defaults are good enough to run
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the search paths for the configuration file.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "harvest-go"),
		"/etc/harvest-go",
	}, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig writes the settings to the given path as YAML.
// The write goes through a temporary file so the replace is atomic.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
