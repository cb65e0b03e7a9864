package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"linchub/internal/app"
	"linchub/internal/config"
	"linchub/internal/db"
	"linchub/internal/domain"
	"linchub/internal/hub"
	"linchub/internal/migrate"
	"linchub/internal/server"
	"linchub/internal/tracing"
)

var rootCmd = &cobra.Command{
	Use:   "linchub",
	Short: "Linchub CLI",
	Long: `Linchub is a durable task orchestrator for healthcare claims operations.
Actors keyed by claim, provider or learner accumulate state across requests;
every multi-step analysis runs as a durable TaskRun whose finished steps are
never re-executed on replay. State lives in the .linchub workspace database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LINCHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(claimsCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(learningCmd())
	rootCmd.AddCommand(orchestrateCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(actorsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(versionCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var memory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			if cfg.Tracing.Enabled {
				if err := tracing.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.Output); err != nil {
					return err
				}
			}
			var a *app.App
			if memory {
				a = app.NewMemory(cfg)
			} else {
				conn, err := db.Open(db.Config{Workspace: workspace})
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := migrate.Migrate(conn); err != nil {
					return err
				}
				a = app.New(conn, cfg)
			}
			handler, err := server.New(server.Config{App: a, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Linchub API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	cmd.Flags().BoolVar(&memory, "memory", false, "serve from in-memory stores, nothing persisted")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", v)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default linchub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists", p)
			}
			if err := os.WriteFile(p, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", p)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	return cfg
}

func claimsCmd() *cobra.Command {
	claims := &cobra.Command{Use: "claims", Short: "Claims analysis"}
	var claimID, reason, denialCode string
	var amount float64
	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a rejected claim",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				payload, err := json.Marshal(map[string]any{
					"claimId":         claimID,
					"rejectionReason": reason,
					"denialCode":      denialCode,
					"amount":          amount,
				})
				if err != nil {
					return err
				}
				result, err := a.Dispatcher.Dispatch(ctx, domain.KindClaimsAnalyzer, payload)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	analyze.Flags().StringVar(&claimID, "claim-id", "", "claim identifier")
	analyze.Flags().StringVar(&reason, "rejection-reason", "", "payer rejection reason")
	analyze.Flags().StringVar(&denialCode, "denial-code", "", "payer denial code")
	analyze.Flags().Float64Var(&amount, "amount", 0, "claim amount")
	_ = analyze.MarkFlagRequired("rejection-reason")
	claims.AddCommand(analyze)
	return claims
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Compliance audits"}

	var providerID, sbsVersion string
	var sampleSize, errorCount int
	simulate := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a CHI compliance audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				payload, err := json.Marshal(map[string]any{
					"providerId": providerID,
					"sampleSize": sampleSize,
					"errorCount": errorCount,
					"sbsVersion": sbsVersion,
				})
				if err != nil {
					return err
				}
				result, err := a.Dispatcher.Dispatch(ctx, domain.KindComplianceAuditor, payload)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	simulate.Flags().StringVar(&providerID, "provider-id", "", "provider identifier")
	simulate.Flags().IntVar(&sampleSize, "sample-size", 50, "number of claims in the sample")
	simulate.Flags().IntVar(&errorCount, "error-count", 0, "number of claims carrying errors")
	simulate.Flags().StringVar(&sbsVersion, "sbs-version", "", "SBS catalog version")
	audit.AddCommand(simulate)

	var listProvider string
	var n int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent audit results for a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				audits, err := a.Repo.ListAuditResults(ctx, listProvider, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(audits)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Audit", "Provider", "Score", "Risk", "Outcome", "Date"})
				for _, res := range audits {
					tw.AppendRow(table.Row{res.AuditID, res.ProviderID, fmt.Sprintf("%.1f", res.ComplianceScore), res.RiskLevel, res.AuditOutcome, res.AuditDate.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listProvider, "provider-id", "", "provider identifier")
	list.Flags().IntVar(&n, "n", 20, "number of results")
	_ = list.MarkFlagRequired("provider-id")
	audit.AddCommand(list)
	return audit
}

func learningCmd() *cobra.Command {
	learning := &cobra.Command{Use: "learning", Short: "Learning paths"}
	var learnerID, certification, role string
	var years int
	path := &cobra.Command{
		Use:   "path",
		Short: "Generate a certification learning path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				payload, err := json.Marshal(map[string]any{
					"learnerId":           learnerID,
					"experienceYears":     years,
					"targetCertification": certification,
					"currentRole":         role,
				})
				if err != nil {
					return err
				}
				result, err := a.Dispatcher.Dispatch(ctx, domain.KindLearningPathGenerator, payload)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	path.Flags().StringVar(&learnerID, "learner-id", "", "learner identifier")
	path.Flags().IntVar(&years, "experience", 0, "years of coding experience")
	path.Flags().StringVar(&certification, "certification", "", "target certification")
	path.Flags().StringVar(&role, "role", "", "current role")
	learning.AddCommand(path)
	return learning
}

func orchestrateCmd() *cobra.Command {
	var action, payload string
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Route an action envelope through the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				env, err := json.Marshal(hub.Envelope{
					Action:  hub.Action(action),
					Payload: json.RawMessage(payload),
				})
				if err != nil {
					return err
				}
				result, err := a.Dispatcher.Dispatch(ctx, domain.KindOrchestrator, env)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action name")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Durable task runs"}

	var n int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListRuns(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Run", "Kind", "Status", "Steps", "Created"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Kind, r.Status, len(r.Steps), r.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&n, "n", 20, "number of runs")
	runs.AddCommand(list)

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its step records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Runs.Lookup(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	runs.AddCommand(show)
	return runs
}

func actorsCmd() *cobra.Command {
	actors := &cobra.Command{Use: "actors", Short: "Actor instances"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List actor instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Actors.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Key", "Requests", "Last Activity"})
				for _, inst := range items {
					tw.AppendRow(table.Row{inst.Kind, inst.Key, inst.RequestCount, inst.LastActivity.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	actors.AddCommand(list)

	show := &cobra.Command{
		Use:   "show <kind> <key>",
		Short: "Show one actor instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				kind, err := domain.ParseActorKind(args[0])
				if err != nil {
					return err
				}
				inst, err := a.Actors.Get(ctx, kind, args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	actors.AddCommand(show)
	return actors
}

func logCmd() *cobra.Command {
	logg := &cobra.Command{Use: "log", Short: "Event log"}

	var n int
	var evtType, kind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Repo.LatestEvents(ctx, n, evtType, kind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&kind, "kind", "", "actor kind filter")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	logg.AddCommand(tail)
	return logg
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", cfg.Service.Name, cfg.Service.Version)
			return nil
		},
	}
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, app.New(conn, cfg))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
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
