package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugefs/hugefs/internal/hugecontrol"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror <path> <store-url>",
	Short: "Ensure a file's content is present in the named store, copying it there if necessary",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkBindAndParseErrors(); err != nil {
			return err
		}

		resp, err := sendControlRequest(mountConfig.MountPoint, hugecontrol.Request{
			Mirror: &hugecontrol.MirrorRequest{Path: args[0], Store: args[1]},
		})
		if err != nil {
			return err
		}

		if from, _ := resp["from"].(string); from != "" {
			fmt.Printf("copied from %s\n", from)
		} else {
			fmt.Println("already present")
		}
		return nil
	},
}
