package main

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugefs/hugefs/internal/hugecontrol"
)

var mirroredCmd = &cobra.Command{
	Use:   "mirrored <store-url>",
	Short: "List immutable files already mirrored to the named store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkBindAndParseErrors(); err != nil {
			return err
		}
		return listByMirrorState(mountConfig.MountPoint, args[0], true)
	},
}

var unmirroredCmd = &cobra.Command{
	Use:   "unmirrored <store-url>",
	Short: "List immutable files not yet mirrored to the named store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkBindAndParseErrors(); err != nil {
			return err
		}
		return listByMirrorState(mountConfig.MountPoint, args[0], false)
	},
}

// listByMirrorState walks every entry under mountPoint, asks the
// control channel for each regular file's Status, and prints the
// ones whose Info.Stores does (want=true) or does not (want=false)
// contain storeURL. Directories, symlinks and not-yet-finalized
// mutable files are skipped: only an immutable file has a fixed set
// of stores to report.
func listByMirrorState(mountPoint, storeURL string, want bool) error {
	return filepath.WalkDir(mountPoint, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == controlFileName {
			return nil
		}

		rel, err := filepath.Rel(mountPoint, path)
		if err != nil {
			return err
		}

		resp, err := sendControlRequest(mountPoint, hugecontrol.Request{
			Status: &hugecontrol.StatusRequest{Path: "/" + filepath.ToSlash(rel)},
		})
		if err != nil {
			return err
		}

		info, _ := resp["info"].(map[string]any)
		if info == nil || info["type"] != "immutable" {
			return nil
		}

		has := false
		if stores, ok := info["stores"].([]any); ok {
			for _, s := range stores {
				if str, _ := s.(string); str == storeURL {
					has = true
					break
				}
			}
		}

		if has == want {
			fmt.Println(rel)
		}
		return nil
	})
}
