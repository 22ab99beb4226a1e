package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiowebux/apitest/internal/cli"
	"github.com/studiowebux/apitest/internal/config"
	"github.com/studiowebux/apitest/internal/session"
	"github.com/studiowebux/apitest/internal/types"
)

var varsCmd = &cobra.Command{
	Use:   "vars",
	Short: "Manage global variables",
}

var varsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List global variables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openVariables()
		if err != nil {
			return err
		}
		return cli.WriteVariables(os.Stdout, store.List(), flagOutput)
	},
}

var varsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Set a global variable",
	Long: `Set a global variable. With --dynamic the value names a generator
(uuid, timestamp, ...) evaluated afresh for every call.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openVariables()
		if err != nil {
			return err
		}

		v := types.Variable{
			Name:        args[0],
			Value:       args[1],
			Description: flagVarDescription,
		}
		if flagVarDynamic {
			v.Type = types.VarDynamic
		}
		saved, err := store.Set(v)
		if err != nil {
			return err
		}
		return cli.WriteVariables(os.Stdout, []types.Variable{saved}, flagOutput)
	},
}

var varsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a global variable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openVariables()
		if err != nil {
			return err
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Deleted %s\n", args[0])
		return nil
	},
}

var varsTokenCmd = &cobra.Command{
	Use:   "token [name]",
	Short: "Generate a token and store it as a global variable",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openVariables()
		if err != nil {
			return err
		}

		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		v, err := store.GenerateToken(name, flagTokenKind, flagTokenValue)
		if err != nil {
			return err
		}
		return cli.WriteVariables(os.Stdout, []types.Variable{v}, flagOutput)
	},
}

var (
	flagVarDynamic     bool
	flagVarDescription string
	flagTokenKind      string
	flagTokenValue     string
)

func init() {
	varsSetCmd.Flags().BoolVar(&flagVarDynamic, "dynamic", false, "Treat the value as a generator kind")
	varsSetCmd.Flags().StringVar(&flagVarDescription, "description", "", "Free-form description")
	varsTokenCmd.Flags().StringVarP(&flagTokenKind, "kind", "k", session.TokenHex32, "Token kind (uuid/hex32/hex64/urlsafe/custom)")
	varsTokenCmd.Flags().StringVar(&flagTokenValue, "value", "", "Value for --kind custom")

	varsCmd.AddCommand(varsListCmd)
	varsCmd.AddCommand(varsSetCmd)
	varsCmd.AddCommand(varsDeleteCmd)
	varsCmd.AddCommand(varsTokenCmd)
}

// openVariables opens the variable store without starting an engine
func openVariables() (*session.Store, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	path := flagConfig
	if path == "" {
		path = config.ConfigFile
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return session.Open(settings.VariablesFile)
}
