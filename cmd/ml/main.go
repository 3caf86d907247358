package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mapline/internal/alert"
	"mapline/internal/app"
	"mapline/internal/bulk"
	"mapline/internal/config"
	"mapline/internal/db"
	"mapline/internal/engine"
	"mapline/internal/logging"
	"mapline/internal/migrate"
	"mapline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ml",
	Short: "Mapline CLI",
	Long: `Mapline runs competency-mapping processes across an organization tree.
Core concepts:
- Workspace: a directory holding mapline.yml and the .mapline database.
- Process: a mapping, revision or diagnosis campaign for a set of units.
- Subprocess: one unit's participation; it moves through situações as the
  unit fills its cadastro (activities and knowledge), superiors accept or
  return it, and the admin unit homologates it.
- Map: the competencies built on top of a homologated cadastro; the
  homologated map of a finished process becomes the unit's vigente map.
- History: every transition leaves a movement, and analyses record who
  accepted, returned or homologated and why. View it with 'ml sp history'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MAPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "admin", "acting actor")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides logging.level)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(unitCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(bulkCmd())
	rootCmd.AddCommand(subprocessCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(knowledgeCmd())
	rootCmd.AddCommand(competencyCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func initCmd() *cobra.Command {
	var adminUnit, admin string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create mapline.yml, the database and the admin actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(strings.ToUpper(adminUnit))), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			} else if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := app.Bootstrap(ctx, e.Repo, e.Config, admin)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&adminUnit, "admin-unit", "SEDOC", "sigla of the unit that homologates")
	cmd.Flags().StringVar(&admin, "admin", "admin", "id of the ADMIN actor")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect mapline.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate mapline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and the alert dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:        viper.GetString("jwt-secret"),
					AllowActorHeader: allowActorHeader,
					Logger:           e.Logger,
				}
				if authCfg.JWTSecret == "" && !allowActorHeader {
					return fmt.Errorf("MAPLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					Bulk:     bulk.New(e),
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   e.Logger,
				})
				if err != nil {
					return err
				}
				if len(e.Config.Webhooks) > 0 {
					d := alert.NewDispatcher(e.Repo, e.Config.Webhooks, e.Logger)
					go d.Run(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdown)
				}()
				fmt.Printf("Serving Mapline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	level := cfg.Logging.Level
	if v := viper.GetString("log-level"); v != "" {
		level = v
	}
	e := engine.New(conn, cfg)
	e.Logger = logging.New(logging.Config{Level: level, Format: cfg.Logging.Format})
	return fn(ctx, e)
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSONOrTable(v any) error {
	if jsonOutput() {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderTable prints rows with go-pretty unless --json is set, in which case
// raw is printed as JSON.
func renderTable(raw any, header table.Row, rows []table.Row) error {
	if jsonOutput() {
		return printJSON(raw)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	for _, r := range rows {
		tw.AppendRow(r)
	}
	tw.Render()
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
