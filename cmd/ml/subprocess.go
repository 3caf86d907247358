package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mapline/internal/domain"
	"mapline/internal/engine"
)

func subprocessCmd() *cobra.Command {
	sp := &cobra.Command{
		Use:     "subprocess",
		Aliases: []string{"sp"},
		Short:   "Inspect and move subprocesses",
	}
	sp.AddCommand(&cobra.Command{
		Use:   "show <subprocess-id>",
		Short: "Show a subprocess with its catalogue and map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.GetSubprocess(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	})
	sp.AddCommand(&cobra.Command{
		Use:   "history <subprocess-id>",
		Short: "Analyses and movements, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.History(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(entries))
				for _, h := range entries {
					switch {
					case h.Movement != nil:
						m := h.Movement
						rows = append(rows, table.Row{h.Seq, h.TS, "movement", m.ActorID,
							fmt.Sprintf("%s -> %s", m.OriginUnitID, m.DestUnitID), m.Description})
					case h.Analysis != nil:
						a := h.Analysis
						rows = append(rows, table.Row{h.Seq, h.TS, "analysis", a.ActorID,
							fmt.Sprintf("%s @ %s", a.Action, a.UnitID), a.Observation})
					}
				}
				return renderTable(entries, table.Row{"Seq", "TS", "Kind", "Actor", "What", "Note"}, rows)
			})
		},
	})
	sp.AddCommand(&cobra.Command{
		Use:   "impact <subprocess-id>",
		Short: "Compare the working catalogue with the vigente map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.ImpactFor(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	})
	sp.AddCommand(&cobra.Command{
		Use:   "permissions <subprocess-id>",
		Short: "Actions --actor-id may perform now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				perms, err := e.Permissions(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(perms)
			})
		},
	})
	sp.AddCommand(&cobra.Command{
		Use:   "deadline <subprocess-id> <date>",
		Short: "Set the map stage deadline (ADMIN)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				updated, err := e.SetMapDeadline(ctx, args[0], actorID(), args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	})
	for _, a := range []domain.Action{
		domain.ActionStart,
		domain.ActionDisponibilize,
		domain.ActionAccept,
		domain.ActionReturn,
		domain.ActionHomologate,
		domain.ActionReopen,
		domain.ActionSuggest,
		domain.ActionValidate,
		domain.ActionConclude,
	} {
		sp.AddCommand(transitionCmd(a))
	}
	return sp
}

func transitionCmd(action domain.Action) *cobra.Command {
	var observation string
	var version int64
	cmd := &cobra.Command{
		Use:   strings.ToLower(string(action)) + " <subprocess-id>",
		Short: "Apply " + string(action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ApplyTransition(ctx, engine.TransitionRequest{
					SubprocessID:    args[0],
					ActorID:         actorID(),
					Action:          action,
					Observation:     observation,
					ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(res)
				}
				fmt.Printf("%s: %s -> %s (with %s)\n", res.Subprocess.UnitID, res.From, res.Subprocess.Situation, res.Subprocess.CurrentUnitID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&observation, "observation", "", "analysis note; the justification for reopen")
	cmd.Flags().Int64Var(&version, "expected-version", 0, "fail unless the subprocess is at this version")
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Edit cadastro activities"}

	var description string
	var knowledge []string
	add := &cobra.Command{
		Use:   "add <subprocess-id>",
		Short: "Add an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AddActivity(ctx, engine.ActivityInput{
					SubprocessID: args[0],
					ActorID:      actorID(),
					Description:  description,
					Knowledge:    knowledge,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	add.Flags().StringVar(&description, "description", "", "activity description")
	add.Flags().StringArrayVar(&knowledge, "knowledge", nil, "knowledge item (repeatable)")
	_ = add.MarkFlagRequired("description")

	var newDescription string
	update := &cobra.Command{
		Use:   "update <subprocess-id> <activity-id>",
		Short: "Change an activity description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.UpdateActivity(ctx, engine.ActivityInput{
					SubprocessID: args[0],
					ActorID:      actorID(),
					ActivityID:   args[1],
					Description:  newDescription,
				})
			})
		},
	}
	update.Flags().StringVar(&newDescription, "description", "", "new description")
	_ = update.MarkFlagRequired("description")

	remove := &cobra.Command{
		Use:   "remove <subprocess-id> <activity-id>",
		Short: "Remove an activity and its knowledge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveActivity(ctx, args[0], actorID(), args[1])
			})
		},
	}
	act.AddCommand(add, update, remove)
	return act
}

func knowledgeCmd() *cobra.Command {
	k := &cobra.Command{Use: "knowledge", Short: "Edit knowledge of an activity"}

	var description string
	add := &cobra.Command{
		Use:   "add <subprocess-id> <activity-id>",
		Short: "Add knowledge to an activity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.AddKnowledge(ctx, args[0], actorID(), args[1], description)
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	add.Flags().StringVar(&description, "description", "", "knowledge description")
	_ = add.MarkFlagRequired("description")

	remove := &cobra.Command{
		Use:   "remove <subprocess-id> <knowledge-id>",
		Short: "Remove a knowledge item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveKnowledge(ctx, args[0], actorID(), args[1])
			})
		},
	}
	k.AddCommand(add, remove)
	return k
}

func competencyCmd() *cobra.Command {
	c := &cobra.Command{Use: "competency", Short: "Edit the competency map"}

	var description string
	var activities []string
	add := &cobra.Command{
		Use:   "add <subprocess-id>",
		Short: "Add a competency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				comp, err := e.AddCompetency(ctx, engine.CompetencyInput{
					SubprocessID: args[0],
					ActorID:      actorID(),
					Description:  description,
					ActivityIDs:  activities,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(comp)
			})
		},
	}
	add.Flags().StringVar(&description, "description", "", "competency description")
	add.Flags().StringSliceVar(&activities, "activity", nil, "linked activity id (repeatable)")
	_ = add.MarkFlagRequired("description")

	var links []string
	link := &cobra.Command{
		Use:   "link <subprocess-id> <competency-id>",
		Short: "Replace the activities of a competency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AssociateActivities(ctx, engine.CompetencyInput{
					SubprocessID: args[0],
					ActorID:      actorID(),
					CompetencyID: args[1],
					ActivityIDs:  links,
				})
			})
		},
	}
	link.Flags().StringSliceVar(&links, "activity", nil, "linked activity id (repeatable)")

	remove := &cobra.Command{
		Use:   "remove <subprocess-id> <competency-id>",
		Short: "Remove a competency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveCompetency(ctx, args[0], actorID(), args[1])
			})
		},
	}
	c.AddCommand(add, link, remove)
	return c
}

func alertsCmd() *cobra.Command {
	var after int64
	var n int
	var unitID string
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts from the outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.AlertsAfter(ctx, after, n, strings.ToUpper(unitID))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, a := range items {
					rows = append(rows, table.Row{a.ID, a.TS, a.Request.Kind, a.Request.TargetUnitID, a.Request.Message})
				}
				return renderTable(items, table.Row{"ID", "TS", "Kind", "Unit", "Message"}, rows)
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only alerts with a greater id")
	cmd.Flags().IntVar(&n, "n", 50, "maximum number of alerts")
	cmd.Flags().StringVar(&unitID, "unit", "", "target unit filter")
	return cmd
}
