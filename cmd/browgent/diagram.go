package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/browgent/internal/diagram"
	"github.com/rendis/browgent/pkg/schema"
)

func newDiagramCmd() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "diagram <workflow-file>",
		Short: "Render a workflow as a Mermaid flowchart or graphviz image",
		Long: `Diagram draws every navigation a workflow can take: if branches, loop
repeat/exit edges and next hops.

Formats: mermaid (default, text), dot, svg, png. Images are written to
--output; text formats go to stdout unless --output is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == diagram.FormatPNG && output == "" {
				return fmt.Errorf("png output requires --output")
			}
			def, err := schema.LoadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			model, err := diagram.Build(def, nil)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "mermaid":
				data = []byte(diagram.RenderMermaid(model))
			case diagram.FormatDOT, diagram.FormatSVG, diagram.FormatPNG:
				if data, err = diagram.RenderImage(cmd.Context(), model, format); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported format %q", format)
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "mermaid", "output format: mermaid, dot, svg, png")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
