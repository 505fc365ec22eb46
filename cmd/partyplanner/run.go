package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/orchestrator"
)

func runCMD(cfgPath *string) *cobra.Command {
	var asJSON bool
	var run = &cobra.Command{
		Use:   "run <input>",
		Short: "Plan and execute one request and print the transcript",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			input := strings.Join(args, " ")
			res, err := a.orch.Run(ctx, orchestrator.Request{UserInput: input})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, asJSON, cfg.General.Debug)
		},
	}
	run.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return run
}

// printResult writes a run transcript. A partial run is reported as an error
// in both output modes so the exit status reflects it.
func printResult(out io.Writer, res orchestrator.Result, asJSON, debug bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		if debug {
			plan, _ := json.MarshalIndent(res.Plan, "", "  ")
			fmt.Fprintf(out, "plan:\n%s\n\n", plan)
		}
		fmt.Fprintf(out, "run %s (%s)\n", res.RunID, res.Status())
		for _, o := range res.Outcomes {
			fmt.Fprintf(out, "  %d. %-28s %s", o.Index, o.Step, o.Tag)
			if o.Error != "" {
				fmt.Fprintf(out, ": %s", o.Error)
			}
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, "history:")
		for i, m := range res.History {
			fmt.Fprintf(out, "--- %d [%s]\n%s\n", i, m.Role, m.Content)
		}
	}
	if res.Partial && res.Failure != nil {
		return fmt.Errorf("run stopped early: %w", res.Failure)
	}
	return nil
}
