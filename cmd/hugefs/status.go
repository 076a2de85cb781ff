package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugefs/hugefs/internal/hugecontrol"
)

var statusCmd = &cobra.Command{
	Use:   "status <path>",
	Short: "Print the control channel's Status response for a path inside a mounted filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkBindAndParseErrors(); err != nil {
			return err
		}

		resp, err := sendControlRequest(mountConfig.MountPoint, hugecontrol.Request{
			Status: &hugecontrol.StatusRequest{Path: args[0]},
		})
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
