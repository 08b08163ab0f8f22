package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskweave/internal/dag"
	"github.com/aristath/taskweave/internal/policy"
	"github.com/aristath/taskweave/internal/taskfile"
)

var planMermaid bool

var planCmd = &cobra.Command{
	Use:   "plan <tasks.yaml>",
	Short: "Validate a task file and show the execution order",
	Long: `Validate a task file, check its dependency graph and print the order in
which tasks can run, with the model each one would start on.

Use --mermaid to print the graph as a Mermaid flowchart instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := taskfile.Load(args[0])
		if err != nil {
			return err
		}
		specs := make([]dag.Spec, len(file.Tasks))
		for i, t := range file.Tasks {
			specs[i] = dag.Spec{ID: t.ID, DependsOn: t.DependsOn}
		}
		g, err := dag.Build(specs)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if planMermaid {
			fmt.Fprint(out, dag.Mermaid(g))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		models, err := loadModels(cfg.ModelsFile)
		if err != nil {
			return err
		}

		byID := make(map[string]taskfile.Task, len(file.Tasks))
		for _, t := range file.Tasks {
			byID[t.ID] = t
		}

		fmt.Fprintln(out, styleTitle.Render(fmt.Sprintf("%d task(s) in %s", g.Len(), args[0])))
		fmt.Fprintf(out, "%s %s %s %s %s\n",
			pad(styleHeader, "#", 4), pad(styleHeader, "TASK", 20), pad(styleHeader, "TOOL", 10),
			pad(styleHeader, "MODEL", 16), styleHeader.Render("DEPENDS ON"))
		for i, id := range g.TopologicalSort() {
			t := byID[id]
			tool := t.Tool
			if tool == "" {
				tool = cfg.DefaultTool
			}
			model := "-"
			if m := policy.SelectModel(models, t.Attributes()); m != nil {
				model = m.ID
			}
			deps := strings.Join(t.DependsOn, ", ")
			fmt.Fprintf(out, "%s %s %s %s %s\n",
				pad(styleHelp, fmt.Sprint(i+1), 4), pad(stylePending, truncate(id, 20), 20),
				pad(stylePending, tool, 10), pad(stylePending, truncate(model, 16), 16), deps)
		}
		fmt.Fprintf(out, "%s Plan is valid\n", okMark())
		return nil
	},
}

func init() {
	planCmd.Flags().BoolVar(&planMermaid, "mermaid", false, "Print the dependency graph as a Mermaid flowchart")
}
