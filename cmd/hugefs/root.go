// Package main implements the hugefs command-line tool: "hugefs mount"
// starts the fuse server, and the remaining subcommands are thin JSON
// clients of a mounted filesystem's control channel.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugefs/hugefs/internal/hugecfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	mountConfig   hugecfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "hugefs",
	Short: "Mount a content-addressed virtual filesystem backed by one or more blob stores",
	Long: `hugefs mounts a content-addressed virtual filesystem over fuse, backed by
a metadata catalog and one or more local or object blob stores, optionally
behind an encrypting adapter.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	bindErr = bindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(mirroredCmd)
	rootCmd.AddCommand(unmirroredCmd)
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&mountConfig, viper.DecodeHook(hugecfg.DecodeHook()))
		return
	}

	resolved, err := filepath.Abs(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&mountConfig, viper.DecodeHook(hugecfg.DecodeHook()))
}

func checkBindAndParseErrors() error {
	if bindErr != nil {
		return bindErr
	}
	if configFileErr != nil {
		return configFileErr
	}
	if unmarshalErr != nil {
		return unmarshalErr
	}
	return nil
}
