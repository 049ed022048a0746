package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalhop/signalhop/internal/signaling"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep <room>",
	Short: "Delete every record under a room",
	Long: `Maintenance sweep: delete every signal record remaining under a room's
prefix. Run only when no session is active in the room; records written
concurrently with the sweep may survive it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := signaling.NewClient(flagRelayURL, nil)
		if err := client.DeleteRoom(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("swept %s\n", args[0])
		return nil
	},
}
