package cmds

import (
	"github.com/spf13/cobra"
)

func AddCommands(root *cobra.Command) error {
	root.AddCommand(newUpCmd())
	root.AddCommand(newDownCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newWaitCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newInstallCmd())
	root.AddCommand(newReloadCmd())
	root.AddCommand(newRunServiceCmd())
	root.AddCommand(newTuiCmd())
	root.AddCommand(newSmoketestCmd())
	return nil
}
