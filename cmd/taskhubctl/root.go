package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "taskhubctl",
	Short: "Operator console for a taskhubd fleet",
	Long: `taskhubctl is a read-only operator console for a taskhubd server: it
polls GET /scheduler/poll and renders live queue depth, claimed and
provisional counts, and the provisional-task review list.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.config/taskhubctl/config.yaml)")
	rootCmd.PersistentFlags().String("server", "", "taskhubd server URL (default http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().String("token", "", "auth token for write-gated taskhubd endpoints")
	rootCmd.PersistentFlags().String("scope", "", "multi-tenant scope to dashboard")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("scope", rootCmd.PersistentFlags().Lookup("scope"))
}

func initConfig() {
	viper.SetDefault("server", "http://127.0.0.1:8080")
	viper.SetDefault("scope", "default")

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TASKHUBCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return fmt.Sprintf("%s/.config/taskhubctl", home)
}
