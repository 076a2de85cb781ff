// Package hugecfg describes hugefs's mount-time configuration: the
// store list, key file, catalog DSN and uid/gid/perm defaults,
// unmarshalled from cobra flags bound through viper.
package hugecfg

import (
	"fmt"
	"strconv"
)

// Octal is the datatype for --default-file-mode/--default-dir-mode,
// which accept base-8 values (e.g. "644").
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text), 8, 32)
	if err != nil {
		return fmt.Errorf("parsing octal value %q: %w", text, err)
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(o), 8)), nil
}

// StoreKind discriminates the store backends a --store flag may name.
type StoreKind string

const (
	StoreLocal  StoreKind = "local"
	StoreObject StoreKind = "s3"
)

func (k *StoreKind) UnmarshalText(text []byte) error {
	switch StoreKind(text) {
	case StoreLocal, StoreObject:
		*k = StoreKind(text)
		return nil
	default:
		return fmt.Errorf("invalid store kind %q, want %q or %q", text, StoreLocal, StoreObject)
	}
}

// StoreConfig describes one entry in the --store list.
type StoreConfig struct {
	Kind StoreKind

	// LocalDir is used when Kind == StoreLocal.
	LocalDir string

	// Bucket is used when Kind == StoreObject.
	Bucket string

	// KeyFile, if set, wraps this store in an encryptedstore.Store
	// using the 32-byte raw key at this path.
	KeyFile string

	// RateLimitPerSecond bounds request rate; zero means unlimited.
	RateLimitPerSecond float64
	RateLimitBurst      int
}

// Config is the full mount-time configuration.
type Config struct {
	// MountPoint is the directory the filesystem is mounted on.
	MountPoint string

	// Stores lists the content stores, in preference order: Get/Has
	// consult them in order, CreateFile uses the first one that
	// supports writing.
	Stores []StoreConfig

	// CatalogDSN is a sqlite file path (the default) or, when prefixed
	// "postgres://", a Postgres connection string.
	CatalogDSN string

	DefaultFileMode Octal
	DefaultDirMode  Octal
	UID             uint32
	GID             uint32

	Debug bool

	// LogFile, if set, rotates log output through lumberjack instead
	// of writing to stderr.
	LogFile string

	// SecretManagerKeyFormat, if set, resolves key fingerprints not
	// found as local files through Secret Manager using this resource
	// name format (containing one "%s" for the hex fingerprint).
	SecretManagerKeyFormat string
}

// Validate checks invariants Config's fields must satisfy before a
// mount can proceed, mirroring the teacher's rootCmd validation chain
// (bind errors, then config-file errors, then unmarshal errors, then
// semantic validation).
func (c *Config) Validate() error {
	if c.MountPoint == "" {
		return fmt.Errorf("mount point must be set")
	}
	if len(c.Stores) == 0 {
		return fmt.Errorf("at least one store must be configured")
	}
	for i, s := range c.Stores {
		switch s.Kind {
		case StoreLocal:
			if s.LocalDir == "" {
				return fmt.Errorf("store %d: local store requires a directory", i)
			}
		case StoreObject:
			if s.Bucket == "" {
				return fmt.Errorf("store %d: object store requires a bucket", i)
			}
		default:
			return fmt.Errorf("store %d: unknown store kind %q", i, s.Kind)
		}
	}
	if c.CatalogDSN == "" {
		return fmt.Errorf("catalog DSN must be set")
	}
	return nil
}
