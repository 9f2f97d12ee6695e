// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "harvest-go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/harvest.log")

	viper.SetDefault("database.sqlite.enabled", true)
	viper.SetDefault("database.sqlite.path", "harvest.db")

	viper.SetDefault("database.mysql.enabled", false)
	viper.SetDefault("database.mysql.username", "harvest")
	viper.SetDefault("database.mysql.password", "secret")
	viper.SetDefault("database.mysql.database", "harvest")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")

	viper.SetDefault("worker.baseurl", "https://ndvi-land-api.onrender.com")
	viper.SetDefault("worker.timeout", 30)
	viper.SetDefault("worker.apikey", "")

	viper.SetDefault("queue.batchlimit", 10)
	viper.SetDefault("queue.maxretries", 3)
	viper.SetDefault("queue.retentionhours", 24)

	viper.SetDefault("reaper.intervalminutes", 5)
	viper.SetDefault("reaper.stuckafterminutes", 10)

	viper.SetDefault("harvest.defaulttile", "43RGN")
	viper.SetDefault("harvest.freshwindowhours", 24)
	viper.SetDefault("harvest.newparcelwindowdays", 7)
	viper.SetDefault("harvest.intervalminutes", 1)

	viper.SetDefault("quota.defaultlimit", 50)
	viper.SetDefault("quota.planlimits", map[string]int{
		"basic":      50,
		"growth":     200,
		"enterprise": 500,
	})

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
}
