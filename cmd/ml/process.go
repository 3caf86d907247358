package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mapline/internal/bulk"
	"mapline/internal/domain"
	"mapline/internal/engine"
	"mapline/internal/ledger"
)

func processCmd() *cobra.Command {
	p := &cobra.Command{Use: "process", Short: "Manage processes"}
	p.AddCommand(processCreateCmd())
	p.AddCommand(processListCmd())
	p.AddCommand(processShowCmd())
	p.AddCommand(processLifecycleCmd("start", "Start a process; every unit is alerted", engine.Engine.StartProcess))
	p.AddCommand(processLifecycleCmd("finish", "Finish a process and publish its maps", engine.Engine.FinishProcess))
	p.AddCommand(processSubprocessesCmd())
	p.AddCommand(processRemindersCmd())
	p.AddCommand(processRemindCmd())
	p.AddCommand(processEventsCmd())
	return p
}

func processCreateCmd() *cobra.Command {
	var id, kind, description, deadline string
	var units []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a process (ADMIN)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				for i := range units {
					units[i] = strings.ToUpper(strings.TrimSpace(units[i]))
				}
				p, err := e.CreateProcess(ctx, engine.ProcessCreateOptions{
					ID:          id,
					Kind:        domain.ProcessKind(strings.ToUpper(kind)),
					Description: description,
					Deadline:    deadline,
					UnitIDs:     units,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "process id (generated when empty)")
	cmd.Flags().StringVar(&kind, "kind", "MAPPING", "MAPPING, REVISION or DIAGNOSIS")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&deadline, "deadline", "", "stage 1 deadline (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&units, "unit", nil, "participating unit (repeatable)")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func processListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProcesses(ctx, domain.ProcessStatus(strings.ToUpper(status)))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.Kind, p.Status, p.Description, p.Deadline, len(p.UnitIDs)})
				}
				return renderTable(items, table.Row{"ID", "Kind", "Status", "Description", "Deadline", "Units"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "CREATED, IN_PROGRESS or FINISHED")
	return cmd
}

func processShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <process-id>",
		Short: "Show a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProcess(ctx, nil, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func processLifecycleCmd(use, short string, run func(engine.Engine, context.Context, string, string) (domain.Process, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <process-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := run(e, ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func subprocessRows(items []domain.Subprocess) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, sp := range items {
		rows = append(rows, table.Row{sp.ID, sp.UnitID, sp.Situation, sp.CurrentUnitID, sp.Version})
	}
	return rows
}

var subprocessHeader = table.Row{"ID", "Unit", "Situation", "With", "Version"}

func processSubprocessesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subprocesses <process-id>",
		Short: "List the subprocesses of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSubprocesses(ctx, args[0])
				if err != nil {
					return err
				}
				return renderTable(items, subprocessHeader, subprocessRows(items))
			})
		},
	}
}

func processRemindersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reminders <process-id>",
		Short: "Subprocesses close to or past their stage deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				due, err := e.DueForReminder(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(due))
				for _, r := range due {
					rows = append(rows, table.Row{r.UnitID, r.Situation, r.Deadline, r.DaysRemaining, r.DaysInSituation})
				}
				return renderTable(due, table.Row{"Unit", "Situation", "Deadline", "Days left", "Days in situation"}, rows)
			})
		},
	}
}

func processRemindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind <process-id> <unit-id>",
		Short: "Send a deadline reminder to a unit (ADMIN)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.SendReminder(ctx, args[0], strings.ToUpper(args[1]), actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
}

func processEventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events <process-id>",
		Short: "Event journal of a process, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := ledger.Events(ctx, e.DB, args[0], n)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(events))
				for _, ev := range events {
					rows = append(rows, table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
				}
				return renderTable(events, table.Row{"ID", "TS", "Type", "Entity", "Entity ID", "Actor"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 100, "maximum number of events")
	return cmd
}

func bulkCmd() *cobra.Command {
	var units []string
	var observation string
	var listOnly bool
	cmd := &cobra.Command{
		Use:   "bulk <accept|homologate> <process-id>",
		Short: "Accept or homologate many subprocesses at once",
		Long: `Runs one independent transition per unit. Units that are no longer
eligible are reported as SKIPPED; the others keep going.
With --eligible, only lists the subprocesses the actor could select.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := bulk.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				coord := bulk.New(e)
				if listOnly {
					items, err := coord.Eligible(ctx, args[1], actorID(), kind)
					if err != nil {
						return err
					}
					return renderTable(items, subprocessHeader, subprocessRows(items))
				}
				for i := range units {
					units[i] = strings.ToUpper(strings.TrimSpace(units[i]))
				}
				res, err := coord.Run(ctx, bulk.Request{
					ProcessID:   args[1],
					ActorID:     actorID(),
					Kind:        kind,
					UnitIDs:     units,
					Observation: observation,
				})
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(res.Outcomes))
				for _, o := range res.Outcomes {
					rows = append(rows, table.Row{o.UnitID, o.Status, o.Situation, o.Reason})
				}
				if err := renderTable(res, table.Row{"Unit", "Status", "Situation", "Reason"}, rows); err != nil {
					return err
				}
				if !jsonOutput() {
					fmt.Printf("succeeded %d, skipped %d, failed %d\n", res.Succeeded, res.Skipped, res.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&units, "unit", nil, "unit to include (repeatable)")
	cmd.Flags().StringVar(&observation, "observation", "", "analysis observation")
	cmd.Flags().BoolVar(&listOnly, "eligible", false, "only list eligible subprocesses")
	return cmd
}
