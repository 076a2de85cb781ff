package hugecfg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugefs/hugefs/internal/hugecfg"
)

func TestOctalRoundTrip(t *testing.T) {
	var o hugecfg.Octal
	require.NoError(t, o.UnmarshalText([]byte("644")))
	require.EqualValues(t, 0o644, o)

	text, err := o.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "644", string(text))
}

func TestOctalRejectsGarbage(t *testing.T) {
	var o hugecfg.Octal
	require.Error(t, o.UnmarshalText([]byte("not-octal")))
}

func TestStoreKindUnmarshal(t *testing.T) {
	var k hugecfg.StoreKind
	require.NoError(t, k.UnmarshalText([]byte("local")))
	require.Equal(t, hugecfg.StoreLocal, k)

	require.Error(t, k.UnmarshalText([]byte("ftp")))
}

func validConfig() hugecfg.Config {
	return hugecfg.Config{
		MountPoint: "/mnt/huge",
		Stores: []hugecfg.StoreConfig{
			{Kind: hugecfg.StoreLocal, LocalDir: "/var/lib/hugefs/store0"},
		},
		CatalogDSN: "/var/lib/hugefs/catalog.db",
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
}

func TestValidateRejectsMissingMountPoint(t *testing.T) {
	c := validConfig()
	c.MountPoint = ""
	require.Error(t, c.Validate())
}

func TestValidateRejectsNoStores(t *testing.T) {
	c := validConfig()
	c.Stores = nil
	require.Error(t, c.Validate())
}

func TestValidateRejectsIncompleteStore(t *testing.T) {
	c := validConfig()
	c.Stores = []hugecfg.StoreConfig{{Kind: hugecfg.StoreObject}}
	require.Error(t, c.Validate())
}

func TestValidateRejectsMissingCatalogDSN(t *testing.T) {
	c := validConfig()
	c.CatalogDSN = ""
	require.Error(t, c.Validate())
}
