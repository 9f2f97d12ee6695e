package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	settings := &Settings{}
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = "harvest.db"
	settings.Worker.BaseURL = "https://worker.example.com"
	settings.Queue.BatchLimit = 10
	settings.Harvest.DefaultTile = "43RGN"
	return settings
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejectsNoDatabase(t *testing.T) {
	t.Parallel()
	settings := validSettings()
	settings.Database.SQLite.Enabled = false
	err := ValidateSettings(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database enabled")
}

func TestValidateSettingsRejectsBothDatabases(t *testing.T) {
	t.Parallel()
	settings := validSettings()
	settings.Database.MySQL.Enabled = true
	assert.Error(t, ValidateSettings(settings))
}

func TestValidateSettingsRejectsBadWorkerURL(t *testing.T) {
	t.Parallel()
	settings := validSettings()
	settings.Worker.BaseURL = "not a url"
	assert.Error(t, ValidateSettings(settings))

	settings.Worker.BaseURL = ""
	assert.Error(t, ValidateSettings(settings))
}

func TestValidateSettingsRejectsBadBatchLimit(t *testing.T) {
	t.Parallel()
	settings := validSettings()
	settings.Queue.BatchLimit = 0
	assert.Error(t, ValidateSettings(settings))
}

func TestValidateSettingsRejectsShortTile(t *testing.T) {
	t.Parallel()
	settings := validSettings()
	settings.Harvest.DefaultTile = "43"
	assert.Error(t, ValidateSettings(settings))
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()
	settings := &Settings{}

	// Zero values fall back to the documented defaults.
	assert.Equal(t, 30*time.Second, settings.WorkerTimeout())
	assert.Equal(t, 10*time.Minute, settings.StuckThreshold())
	assert.Equal(t, 24*time.Hour, settings.FailedRetention())
	assert.Equal(t, 24*time.Hour, settings.FreshWindow())
	assert.Equal(t, 7*24*time.Hour, settings.NewParcelWindow())
	assert.Equal(t, 5*time.Minute, settings.DispatchInterval())
	assert.Equal(t, 5*time.Minute, settings.ReaperInterval())

	settings.Worker.Timeout = 60
	settings.Reaper.StuckAfterMinutes = 20
	settings.Queue.RetentionHours = 48
	settings.Harvest.FreshWindowHours = 12
	settings.Harvest.NewParcelWindowDays = 3
	settings.Harvest.IntervalMinutes = 2
	settings.Reaper.IntervalMinutes = 15

	assert.Equal(t, time.Minute, settings.WorkerTimeout())
	assert.Equal(t, 20*time.Minute, settings.StuckThreshold())
	assert.Equal(t, 48*time.Hour, settings.FailedRetention())
	assert.Equal(t, 12*time.Hour, settings.FreshWindow())
	assert.Equal(t, 3*24*time.Hour, settings.NewParcelWindow())
	assert.Equal(t, 2*time.Minute, settings.DispatchInterval())
	assert.Equal(t, 15*time.Minute, settings.ReaperInterval())
}

func TestSaveYAMLConfig(t *testing.T) {
	t.Parallel()
	settings := validSettings()
	settings.Quota.DefaultLimit = 50

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, settings))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "worker.example.com")
	assert.Contains(t, string(data), "43RGN")
}
