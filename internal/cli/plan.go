package cli

import (
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which swap the engine would attempt right now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Plan(cmd.Context())
	},
}
