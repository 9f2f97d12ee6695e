// conf/validate.go settings validation
package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateSettings checks the loaded settings for values the rest of the
// system cannot work with. It returns the first problem found.
func ValidateSettings(settings *Settings) error {
	if !settings.Database.SQLite.Enabled && !settings.Database.MySQL.Enabled {
		return fmt.Errorf("no database enabled, enable either sqlite or mysql")
	}
	if settings.Database.SQLite.Enabled && settings.Database.MySQL.Enabled {
		return fmt.Errorf("both sqlite and mysql enabled, pick one")
	}

	if settings.Worker.BaseURL == "" {
		return fmt.Errorf("worker.baseurl must be set")
	}
	u, err := url.Parse(settings.Worker.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("worker.baseurl %q is not a valid URL", settings.Worker.BaseURL)
	}

	if settings.Queue.BatchLimit <= 0 {
		return fmt.Errorf("queue.batchlimit must be positive, got %d", settings.Queue.BatchLimit)
	}
	if settings.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.maxretries must not be negative, got %d", settings.Queue.MaxRetries)
	}

	if tile := settings.Harvest.DefaultTile; tile != "" && len(strings.TrimSpace(tile)) < 5 {
		return fmt.Errorf("harvest.defaulttile %q is not a valid MGRS tile code", tile)
	}

	return nil
}
