// gen-diagrams renders every workflow under examples/ to docs/diagrams.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/browgent/internal/diagram"
	"github.com/rendis/browgent/pkg/schema"
)

func main() {
	if err := run(context.Background(), "examples", filepath.Join("docs", "diagrams")); err != nil {
		fmt.Fprintf(os.Stderr, "gen-diagrams: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, srcDir, outDir string) error {
	files, err := workflowFiles(srcDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	for _, path := range files {
		def, err := schema.LoadWorkflowFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		model, err := diagram.Build(def, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		mermaid := "```mermaid\n" + diagram.RenderMermaid(model) + "```\n"
		if err := os.WriteFile(filepath.Join(outDir, name+".md"), []byte(mermaid), 0o644); err != nil {
			return err
		}
		svg, err := diagram.RenderImage(ctx, model, diagram.FormatSVG)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := os.WriteFile(filepath.Join(outDir, name+".svg"), svg, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s -> %s/%s.{md,svg}\n", path, outDir, name)
	}
	return nil
}

// workflowFiles lists the workflow documents in dir. settings.yaml is a
// config sample, not a workflow.
func workflowFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == "settings.yaml" {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".json", ".yaml", ".yml":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
