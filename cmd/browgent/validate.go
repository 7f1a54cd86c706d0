package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/browgent/internal/validation"
	"github.com/rendis/browgent/pkg/schema"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Check a workflow file without running it",
		Long: `Validate runs the full validation pipeline (structure, step configs,
navigation graph) and prints every error and warning as JSON. The exit
status is non-zero when the workflow has errors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := schema.LoadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			v, err := validation.NewWorkflowValidator()
			if err != nil {
				return err
			}
			result := v.Validate(cmd.Context(), def)

			out, err := json.MarshalIndent(map[string]any{
				"valid":    result.Valid(),
				"errors":   result.Errors,
				"warnings": result.Warnings,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !result.Valid() {
				return fmt.Errorf("%s: %d validation error(s)", args[0], len(result.Errors))
			}
			return nil
		},
	}
}
