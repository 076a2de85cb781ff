package hugecfg

import (
	"github.com/mitchellh/mapstructure"
)

// DecodeHook composes the mapstructure decode hooks viper needs to
// turn flag/YAML values into Config's richer field types: text
// unmarshalling for Octal/StoreKind, durations, and comma-separated
// slices, mirroring the teacher's cfg.DecodeHook.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
