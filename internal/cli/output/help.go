package output

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// HelpJSONFlag prints a command's help as JSON for scripts and monitoring
// tooling that wraps the CLI.
const HelpJSONFlag = "help-json"

// ErrHelpShown stops a command after --help-json printed its help. Callers
// treat it as success.
var ErrHelpShown = errors.New("help shown")

// HelpInfo contains structured help information for a command.
type HelpInfo struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Usage       string        `json:"usage"`
	Flags       []FlagInfo    `json:"flags,omitempty"`
	Commands    []CommandInfo `json:"commands,omitempty"`
}

// CommandInfo contains information about a subcommand.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage"`
}

// FlagInfo contains information about a command flag.
type FlagInfo struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Description string `json:"description"`
	// Type is the pflag value type, e.g. "string", "stringArray", "duration".
	Type    string `json:"type"`
	Default string `json:"default,omitempty"`
}

// ExtractHelpInfo builds a HelpInfo struct from a cobra.Command.
func ExtractHelpInfo(cmd *cobra.Command) HelpInfo {
	info := HelpInfo{
		Name:        cmd.Name(),
		Description: cmd.Short,
		Usage:       cmd.UseLine(),
		Flags:       extractFlags(cmd),
	}

	for _, sub := range cmd.Commands() {
		if sub.Hidden || !sub.IsAvailableCommand() {
			continue
		}
		info.Commands = append(info.Commands, CommandInfo{
			Name:        sub.Name(),
			Description: sub.Short,
			Usage:       sub.UseLine(),
		})
	}
	return info
}

// extractFlags lists local flags first, then inherited ones.
func extractFlags(cmd *cobra.Command) []FlagInfo {
	var flags []FlagInfo
	add := func(f *pflag.Flag) {
		if f.Hidden || f.Name == HelpJSONFlag || f.Name == "help" {
			return
		}
		flags = append(flags, FlagInfo{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Description: f.Usage,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
		})
	}
	cmd.LocalFlags().VisitAll(add)
	cmd.InheritedFlags().VisitAll(add)
	return flags
}

// SetupHelpJSON adds --help-json to every command of the tree rooted at
// rootCmd. Commands without a Run of their own print their usage.
func SetupHelpJSON(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().Bool(HelpJSONFlag, false, "Output help information as JSON")

	original := rootCmd.PersistentPreRunE
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := printHelpJSON(cmd); err != nil {
			return err
		}
		if original != nil {
			return original(cmd, args)
		}
		return nil
	}

	if !rootCmd.Runnable() {
		rootCmd.RunE = func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		}
	}
}

// printHelpJSON returns ErrHelpShown once help was printed.
func printHelpJSON(cmd *cobra.Command) error {
	if enabled, _ := cmd.Flags().GetBool(HelpJSONFlag); !enabled {
		return nil
	}
	data, err := json.MarshalIndent(ExtractHelpInfo(cmd), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal help info: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return ErrHelpShown
}
