// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "imgprefetch")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "imgprefetch.log")

	viper.SetDefault("prefetch.enabled", true)
	viper.SetDefault("prefetch.range", 2)
	viper.SetDefault("prefetch.delay", 100*time.Millisecond)

	viper.SetDefault("fetch.timeout", 10*time.Second)
	viper.SetDefault("fetch.ratelimit", 5.0)
	viper.SetDefault("fetch.burst", 10)
	viper.SetDefault("fetch.useragent", "")
	viper.SetDefault("fetch.negativettl", 5*time.Minute)
	viper.SetDefault("fetch.maxbodysize", 32*1024*1024)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "localhost:9190")
}
