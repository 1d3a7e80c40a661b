package device

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds tool defaults that are workflow (not command) specific:
// operators rescuing one disk over many sessions keep these in a config
// file instead of repeating flags.
type Config struct {
	PartitionStart      int64 `mapstructure:"partition_start"`
	ExtendMargin        int64 `mapstructure:"extend_margin"`
	RenderBytesPerPixel int64 `mapstructure:"render_bytes_per_pixel"`
}

// LoadConfig loads tool configuration using Viper.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("go-reiserfs")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.go-reiserfs")
	v.AddConfigPath("/etc/go-reiserfs")

	v.SetDefault("partition_start", 0)
	v.SetDefault("extend_margin", 512)
	// One pixel per ddrescue default cluster (128 sectors) times four.
	v.SetDefault("render_bytes_per_pixel", 128*4*512)

	v.SetEnvPrefix("REISERFS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if config.PartitionStart < 0 {
		return nil, fmt.Errorf("partition_start must not be negative, got %d", config.PartitionStart)
	}
	return &config, nil
}
