package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configPath is a directory holding config.yml or the path of a yml file.
var configPath string

var rootCmd = &cobra.Command{
	Use:           "ssoflow",
	Short:         "Single sign-on provider and approval workflow service",
	Long:          `ssoflow is a multi-tenant OpenID Connect provider with role based access control and an approval workflow ticketing system.`,
	Version:       internal.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOnly() bool {
	return os.Getenv("APP_ENV") == "production" || os.Getenv("DOCKER_ENV") == "true"
}

// loadConfig reads config.yml (ENV_ prefixed variables override keys, e.g. ENV_DATABASE_SOURCE),
// or only the environment when running in a container.
func loadConfig(path string) (*internal.Config, error) {
	var cfg *internal.Config
	if envOnly() {
		cfg = internal.LoadConfigFromEnv()
	} else {
		v := viper.New()
		if ext := filepath.Ext(path); ext == ".yml" || ext == ".yaml" {
			v.SetConfigFile(path)
		} else {
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yml")
		}
		v.SetEnvPrefix("ENV")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		cfg = &internal.Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "config.yml or the directory containing it")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}
