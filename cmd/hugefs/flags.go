package main

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags registers the persistent flags every subcommand shares
// and binds each to viper, mirroring cfg.BindFlags's one-flag-at-a-time
// bind-and-check style.
func bindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("mount-point", "", "directory to mount the filesystem on")
	if err := viper.BindPFlag("mountpoint", flagSet.Lookup("mount-point")); err != nil {
		return err
	}

	// storespecs is parsed by parseStoreSpecs in mount.go rather than
	// decoded straight into Config.Stores, since each entry packs a
	// kind, location and optional key file into one flag value.
	flagSet.StringSlice("store", nil, "store spec, repeatable; e.g. local:/var/lib/hugefs/store0 or s3:my-bucket")
	if err := viper.BindPFlag("storespecs", flagSet.Lookup("store")); err != nil {
		return err
	}

	flagSet.String("catalog-dsn", "", "sqlite file path or postgres:// DSN for the metadata catalog")
	if err := viper.BindPFlag("catalogdsn", flagSet.Lookup("catalog-dsn")); err != nil {
		return err
	}

	flagSet.String("default-file-mode", "644", "permission bits (octal) for newly created files")
	if err := viper.BindPFlag("defaultfilemode", flagSet.Lookup("default-file-mode")); err != nil {
		return err
	}

	flagSet.String("default-dir-mode", "755", "permission bits (octal) for newly created directories")
	if err := viper.BindPFlag("defaultdirmode", flagSet.Lookup("default-dir-mode")); err != nil {
		return err
	}

	flagSet.Uint32("uid", 0, "uid that owns every inode in the mount")
	if err := viper.BindPFlag("uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.Uint32("gid", 0, "gid that owns every inode in the mount")
	if err := viper.BindPFlag("gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.Bool("debug", false, "enable debug logging")
	if err := viper.BindPFlag("debug", flagSet.Lookup("debug")); err != nil {
		return err
	}

	flagSet.String("log-file", "", "rotate log output through this file instead of stderr")
	if err := viper.BindPFlag("logfile", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.String("secret-manager-key-format", "", `Secret Manager resource name format containing one "%s" for the key fingerprint`)
	if err := viper.BindPFlag("secretmanagerkeyformat", flagSet.Lookup("secret-manager-key-format")); err != nil {
		return err
	}

	return nil
}
