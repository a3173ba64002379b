package main

import (
	"fmt"
	"os"

	"neurosdk/pkg/actions"
	"neurosdk/pkg/config"
	"neurosdk/pkg/schema"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <manifest>",
	Short: "Check an action manifest",
	Long: `Loads an action manifest and checks every schema. With --action and --params,
also validates a parameter document against that action's schema.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().String("action", "", "Action whose schema validates --params")
	validateCmd.Flags().String("params", "", "JSON parameters to validate")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	list, err := config.LoadActions(args[0])
	if err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	registry := actions.NewRegistry()
	if err := registry.Register(list...); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	for _, a := range registry.Snapshot() {
		state := "enabled"
		if !a.Enabled() {
			state = "disabled"
		}
		fmt.Printf("  %-24s %s\n", a.Name, state)
	}
	fmt.Printf("Manifest is valid! ✅ (%d actions)\n", registry.Len())

	name, _ := cmd.Flags().GetString("action")
	params, _ := cmd.Flags().GetString("params")
	if name == "" && params == "" {
		return nil
	}

	action, ok := registry.Resolve(name)
	if !ok {
		return fmt.Errorf("unknown action %q", name)
	}
	var payload any
	if params != "" {
		if err := jsoniter.UnmarshalFromString(params, &payload); err != nil {
			return fmt.Errorf("params: %w", err)
		}
	}
	out := schema.Default.Validate(action.Schema, payload)
	if !out.Valid {
		for _, r := range out.Reasons {
			fmt.Fprintf(os.Stderr, "  %s\n", r)
		}
		return fmt.Errorf("params do not match the schema of %q", name)
	}
	fmt.Printf("Params are valid for %q ✅\n", name)
	return nil
}
