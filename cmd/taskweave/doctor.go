package main

import (
	"fmt"
	"os/exec"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aristath/taskweave/internal/adapter"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that git, the model catalog and every configured tool are usable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		problems := 0
		check := func(ok bool, label, detail string) {
			mark := okMark()
			if !ok {
				mark = failMark()
				problems++
			}
			if detail != "" {
				label += " " + styleHelp.Render(detail)
			}
			fmt.Fprintf(out, "%s %s\n", mark, label)
		}

		_, err = exec.LookPath("git")
		check(err == nil, "git", errDetail(err))

		models, err := loadModels(cfg.ModelsFile)
		switch {
		case err != nil:
			check(false, "model catalog", err.Error())
		case models == nil:
			fmt.Fprintf(out, "%s model catalog %s\n", warnMark(), styleHelp.Render(cfg.ModelsFile+" not found, tools use their default models"))
		default:
			check(true, "model catalog", fmt.Sprintf("%d model(s)", len(models)))
		}

		reg, skipped := adapter.BuildRegistry(ctx, cfg.Providers, adapter.NewProcessManager(), adapter.NewBreakers(adapter.DefaultBreakerSettings))
		names := make([]string, 0, len(cfg.Providers))
		for name := range cfg.Providers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			label := fmt.Sprintf("tool %s (%s)", name, cfg.Providers[name].Type)
			if err, ok := skipped[name]; ok {
				check(false, label, err.Error())
				continue
			}
			a, err := reg.Get(name)
			if err != nil {
				check(false, label, err.Error())
				continue
			}
			check(a.IsAvailable(ctx), label, "")
		}
		if _, ok := cfg.Providers[cfg.DefaultTool]; !ok {
			check(false, "default tool", fmt.Sprintf("%q is not a configured provider", cfg.DefaultTool))
		}

		if problems > 0 {
			return fmt.Errorf("%d problem(s) found", problems)
		}
		return nil
	},
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
