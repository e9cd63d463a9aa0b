package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/streamhub/internal/app"
	"github.com/dropDatabas3/streamhub/internal/config"
	"github.com/dropDatabas3/streamhub/internal/observability/logger"
)

// version se pisa con -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath = envOr("STREAMHUB_CONFIG", "")
		envFile    = ".env"
		out        = "text"
	)

	root := &cobra.Command{
		Use:           "streamhub",
		Short:         "Nodo de agregación de streams de cliente",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env es opcional; las variables ya definidas ganan
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("load %s: %w", envFile, err)
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "Archivo YAML de configuración (env STREAMHUB_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "Archivo .env a cargar antes de leer la configuración")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Arranca el nodo hasta SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	membersCmd := &cobra.Command{
		Use:   "members",
		Short: "Lista los miembros configurados del cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return printMembers(cmd.OutOrStdout(), cfg, out)
		},
	}
	membersCmd.Flags().StringVar(&out, "out", out, "Formato de salida: text|json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Imprime la versión",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(runCmd, membersCmd, versionCmd)
	return root
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, Node: cfg.Node.ID, Version: version})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := app.New(ctx, cfg, app.Deps{Logger: logger.Named("app")})
	if err != nil {
		logger.L().Error("build node", logger.Err(err))
		return err
	}
	return node.Run(ctx)
}

type memberRow struct {
	ID       string `json:"id"`
	RaftAddr string `json:"raftAddr,omitempty"`
	Local    bool   `json:"local"`
}

func configuredMembers(cfg *config.Config) []memberRow {
	var rows []memberRow
	switch cfg.Cluster.Mode {
	case "embedded":
		for id, addr := range cfg.Cluster.Nodes {
			rows = append(rows, memberRow{ID: id, RaftAddr: addr, Local: id == cfg.Node.ID})
		}
		if _, ok := cfg.Cluster.Nodes[cfg.Node.ID]; !ok {
			rows = append(rows, memberRow{ID: cfg.Node.ID, RaftAddr: cfg.Cluster.RaftAddr, Local: true})
		}
	default:
		for _, id := range cfg.Cluster.Members {
			rows = append(rows, memberRow{ID: id, Local: id == cfg.Node.ID})
		}
		if len(rows) == 0 {
			rows = append(rows, memberRow{ID: cfg.Node.ID, Local: true})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func printMembers(w io.Writer, cfg *config.Config, format string) error {
	rows := configuredMembers(cfg)
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	for _, r := range rows {
		mark := ""
		if r.Local {
			mark = " (local)"
		}
		if r.RaftAddr != "" {
			fmt.Fprintf(w, "%s\t%s%s\n", r.ID, r.RaftAddr, mark)
		} else {
			fmt.Fprintf(w, "%s%s\n", r.ID, mark)
		}
	}
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
