package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "intents",
		Short: "List the intent registry in precedence order",
		Args:  cobra.NoArgs,
		RunE:  runIntents,
	}

	RootCmd.AddCommand(cmd)
}

func runIntents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if formatFlag != "text" {
		return printJSON(out, reg.Schemas())
	}
	for _, s := range reg.Schemas() {
		confirm := ""
		if s.ConfirmationRequired {
			confirm = " (confirm)"
		}
		fmt.Fprintf(out, "%s%s: %s\n", s.Name, confirm, s.Description)
		fmt.Fprintf(out, "  %s\n", strings.Join(s.Examples, " | "))
	}
	return nil
}
