package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the current taskhubctl configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	fmt.Println("server:", viper.GetString("server"))
	fmt.Println("scope:", viper.GetString("scope"))
	token := viper.GetString("token")
	if token != "" {
		token = "(set)"
	} else {
		token = "(none)"
	}
	fmt.Println("token:", token)
	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		fmt.Println("config file:", cfgFile)
	} else {
		fmt.Println("config file: (none found, using defaults and flags)")
	}
	return nil
}
