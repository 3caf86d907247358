package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mapline/internal/domain"
	"mapline/internal/engine"
	"mapline/internal/server"
)

func unitCmd() *cobra.Command {
	unit := &cobra.Command{Use: "unit", Short: "Manage the organization tree"}

	var id, sigla, name, parent string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a unit (ADMIN)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.RegisterUnit(ctx, actorID(), domain.Unit{
					ID:       id,
					Sigla:    sigla,
					Name:     name,
					ParentID: optionalString(strings.ToUpper(parent)),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "unit id (defaults to the sigla)")
	add.Flags().StringVar(&sigla, "sigla", "", "unit sigla")
	add.Flags().StringVar(&name, "name", "", "unit name")
	add.Flags().StringVar(&parent, "parent", "", "superior unit id")
	_ = add.MarkFlagRequired("sigla")

	list := &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				units, err := e.Repo.ListUnits(ctx, nil)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(units))
				for _, u := range units {
					rows = append(rows, table.Row{u.ID, u.Sigla, u.Name, deref(u.ParentID)})
				}
				return renderTable(units, table.Row{"ID", "Sigla", "Name", "Parent"}, rows)
			})
		},
	}
	unit.AddCommand(add, list)
	return unit
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage actors"}

	var id, name, role, unitID string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an actor (ADMIN)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterActor(ctx, actorID(), domain.Actor{
					ID:     id,
					Name:   name,
					Role:   domain.Role(strings.ToUpper(role)),
					UnitID: strings.ToUpper(unitID),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "actor id")
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&role, "role", "", "ADMIN, GESTOR, CHEFE or SERVIDOR")
	add.Flags().StringVar(&unitID, "unit", "", "unit id")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("role")
	_ = add.MarkFlagRequired("unit")

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actors, err := e.Repo.ListActors(ctx, strings.ToUpper(filter))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(actors))
				for _, a := range actors {
					rows = append(rows, table.Row{a.ID, a.Name, a.Role, a.UnitID})
				}
				return renderTable(actors, table.Row{"ID", "Name", "Role", "Unit"}, rows)
			})
		},
	}
	list.Flags().StringVar(&filter, "unit", "", "unit filter")
	actor.AddCommand(add, list)
	return actor
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, raw, err := e.IssueAPIKey(ctx, actorID(), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": raw})
				}
				fmt.Printf("API key %s for %s: %s\n", key.ID, key.ActorID, raw)
				fmt.Println("Store it now; only its hash is kept.")
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys of --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, k := range items {
					rows = append(rows, table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				return renderTable(items, table.Row{"ID", "Actor", "Name", "Created"}, rows)
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	keys.AddCommand(create, list, revoke)
	return keys
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --actor-id with MAPLINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetActor(ctx, nil, actorID()); err != nil {
					return fmt.Errorf("actor %s: %w", actorID(), err)
				}
				token, err := server.SignToken(viper.GetString("jwt-secret"), actorID(), ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
