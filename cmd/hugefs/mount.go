package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"

	"github.com/hugefs/hugefs/internal/hugecatalog"
	"github.com/hugefs/hugefs/internal/hugecfg"
	"github.com/hugefs/hugefs/internal/hugefs"
	"github.com/hugefs/hugefs/internal/hugekeys"
	"github.com/hugefs/hugefs/internal/hugelog"
	"github.com/hugefs/hugefs/internal/hugeratelimit"
	"github.com/hugefs/hugefs/internal/hugestate"
	"github.com/hugefs/hugefs/internal/hugestore"
	"github.com/hugefs/hugefs/internal/hugestore/encryptedstore"
	"github.com/hugefs/hugefs/internal/hugestore/localstore"
	"github.com/hugefs/hugefs/internal/hugestore/objectstore"
	"github.com/hugefs/hugefs/internal/hugetrace"
)

var mountLog = hugelog.New("cmd.mount")

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the filesystem at the configured mount point",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkBindAndParseErrors(); err != nil {
			return err
		}

		specs, err := parseStoreSpecs(viper.GetStringSlice("storespecs"))
		if err != nil {
			return fmt.Errorf("parsing --store flags: %w", err)
		}
		mountConfig.Stores = specs

		if err := mountConfig.Validate(); err != nil {
			return err
		}

		return runMount(cmd.Context(), mountConfig)
	},
}

// parseStoreSpecs turns "kind:location[:keyfile]" command-line specs
// into typed store configuration, e.g. "local:/var/lib/hugefs/s0" or
// "s3:my-bucket:/etc/hugefs/keys/s0.key".
func parseStoreSpecs(specs []string) ([]hugecfg.StoreConfig, error) {
	out := make([]hugecfg.StoreConfig, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("store spec %q: want kind:location[:keyfile]", spec)
		}

		var sc hugecfg.StoreConfig
		if err := sc.Kind.UnmarshalText([]byte(parts[0])); err != nil {
			return nil, fmt.Errorf("store spec %q: %w", spec, err)
		}
		switch sc.Kind {
		case hugecfg.StoreLocal:
			sc.LocalDir = parts[1]
		case hugecfg.StoreObject:
			sc.Bucket = parts[1]
		}
		if len(parts) == 3 {
			sc.KeyFile = parts[2]
		}
		out = append(out, sc)
	}
	return out, nil
}

func buildStore(ctx context.Context, sc hugecfg.StoreConfig, secretManagerKeyFormat string) (hugestore.Store, error) {
	var limiter *hugeratelimit.Limiter
	if sc.RateLimitPerSecond > 0 {
		limiter = hugeratelimit.New(sc.RateLimitPerSecond, sc.RateLimitBurst)
	}

	var inner hugestore.Store
	switch sc.Kind {
	case hugecfg.StoreLocal:
		s, err := localstore.Open(sc.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("opening local store %q: %w", sc.LocalDir, err)
		}
		inner = s
	case hugecfg.StoreObject:
		var opts []objectstore.Option
		if limiter != nil {
			opts = append(opts, objectstore.WithRateLimiter(limiter))
		}
		s, err := objectstore.Open(sc.Bucket, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening object store %q: %w", sc.Bucket, err)
		}
		inner = s
	default:
		return nil, fmt.Errorf("unknown store kind %q", sc.Kind)
	}

	if sc.KeyFile != "" {
		key, err := loadRawKey(sc.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading key for store %q: %w", sc.KeyFile, err)
		}
		return encryptedstore.New(inner, key), nil
	}

	// No key file named explicitly: if the store's own on-disk config
	// already records a key fingerprint (an encrypted store mounted
	// without its key file at hand) and Secret Manager resolution is
	// configured, resolve the key by fingerprint instead of failing.
	config, err := inner.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("reading store config for %q: %w", inner.URL(), err)
	}
	if config.KeyFingerprint == nil {
		return inner, nil
	}
	if secretManagerKeyFormat == "" {
		return nil, fmt.Errorf("store %q is encrypted (key fingerprint %s) but no key file or Secret Manager format was given",
			inner.URL(), config.KeyFingerprint.Hex())
	}

	provider, err := hugekeys.NewSecretManagerProvider(ctx, secretManagerKeyFormat)
	if err != nil {
		return nil, fmt.Errorf("starting Secret Manager key provider: %w", err)
	}
	defer provider.Close()

	fingerprint := encryptedstore.KeyFingerprint(*config.KeyFingerprint)
	key, err := provider.Key(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("resolving key for store %q from Secret Manager: %w", inner.URL(), err)
	}
	return encryptedstore.New(inner, key), nil
}

// loadRawKey reads a raw 32-byte AES-256 key from path. Unlike a
// hugekeys.FileProvider, which resolves keys by fingerprint out of a
// directory, mounting a store names the one key file it is keyed on
// directly.
func loadRawKey(path string) ([32]byte, error) {
	var key [32]byte
	data, err := os.ReadFile(path)
	if err != nil {
		return key, err
	}
	if len(data) != hugekeys.KeySize {
		return key, fmt.Errorf("key file %s has length %d, want %d", path, len(data), hugekeys.KeySize)
	}
	copy(key[:], data)
	return key, nil
}

func runMount(ctx context.Context, cfg hugecfg.Config) error {
	hugelog.SetDebug(cfg.Debug)
	if cfg.LogFile != "" {
		hugelog.SetOutputFile(cfg.LogFile, 100, 5, 28)
	}

	shutdownTracing, err := hugetrace.InstallStdout()
	if err != nil {
		return fmt.Errorf("installing tracer: %w", err)
	}
	defer shutdownTracing(context.Background())

	catalog, err := openCatalog(cfg.CatalogDSN)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}

	stores := make([]hugestore.Store, 0, len(cfg.Stores))
	for _, sc := range cfg.Stores {
		s, err := buildStore(ctx, sc, cfg.SecretManagerKeyFormat)
		if err != nil {
			return err
		}
		stores = append(stores, s)
	}

	state := hugestate.New(catalog, stores)

	server, err := hugefs.NewServer(hugefs.ServerConfig{
		State:    state,
		UID:      cfg.UID,
		GID:      cfg.GID,
		FilePerm: os.FileMode(cfg.DefaultFileMode),
		DirPerm:  os.FileMode(cfg.DefaultDirMode),
	})
	if err != nil {
		return fmt.Errorf("building fuse server: %w", err)
	}

	mountLog.Debugf("mounting hugefs on %s with %d store(s)", cfg.MountPoint, len(stores))
	mfs, err := fuse.Mount(cfg.MountPoint, server, &fuse.MountConfig{
		FSName:               "hugefs",
		Subtype:              "hugefs",
		VolumeName:           "hugefs",
		EnableParallelDirOps: true,
	})
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	return mfs.Join(ctx)
}

func openCatalog(dsn string) (*hugecatalog.Catalog, error) {
	if strings.HasPrefix(dsn, "postgres://") {
		return hugecatalog.Open(postgres.Open(dsn))
	}
	return hugecatalog.OpenSQLite(dsn)
}
