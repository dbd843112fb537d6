package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eikobot/eikobot/pkg/project"
)

func newProjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage eikobot projects",
	}
	cmd.AddCommand(newProjectInitCommand())
	return cmd
}

func newProjectInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold an eiko.toml and a hello model in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := project.Init("."); err != nil {
				return err
			}
			fmt.Println("Initialized eikobot project.")
			return nil
		},
	}
}
