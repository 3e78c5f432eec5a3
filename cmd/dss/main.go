package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/api"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/server"
)

// Options defines all CLI flags and env vars for the DSS server.
// Flags: --host, --port, --data-dir, --web-dir, --config, --backend-url, --map-url, --max-sessions
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host        string `doc:"Host to bind to" default:"0.0.0.0"`
	Port        int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir     string `doc:"Directory for the layer catalog and DuckDB archive" default:".data"`
	WebDir      string `doc:"Path to web/ directory" default:"web"`
	Config      string `doc:"Domain configuration file (YAML)" short:"c"`
	BackendURL  string `doc:"Backend API base URL (overrides the config file)"`
	MapURL      string `doc:"Map service base URL (overrides the config file)"`
	MaxSessions int    `doc:"Maximum number of open dashboard sessions (overrides the config file)"`
	Debug       bool   `doc:"Enable debug logging"`
}

func serverConfig(opts *Options) server.Config {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return server.Config{
		Host:        opts.Host,
		Port:        fmt.Sprintf("%d", opts.Port),
		DataDir:     opts.DataDir,
		WebDir:      opts.WebDir,
		ConfigPath:  opts.Config,
		BackendURL:  opts.BackendURL,
		MapURL:      opts.MapURL,
		MaxSessions: opts.MaxSessions,
		Logger:      logger,
	}
}

func newServer(opts *Options) *server.Server {
	srv, err := server.New(serverConfig(opts))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return srv
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var srv *server.Server

		hooks.OnStart(func() {
			srv = newServer(opts)
			domain := srv.Domain()

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("DSS API server starting...\n")
			fmt.Printf("  Server:    %s\n", baseURL)
			fmt.Printf("  Data:      %s\n", opts.DataDir)
			fmt.Printf("  Backend:   %s\n", domain.Backend.BaseURL)
			fmt.Printf("  Map:       %s\n", domain.MapService.BaseURL)
			fmt.Println()
			fmt.Printf("  Dashboard: %s/dashboard\n", baseURL)
			fmt.Printf("  Docs:      %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI:   %s/openapi.json\n", baseURL)
			fmt.Println()

			if err := http.ListenAndServe(addr, srv); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			if srv != nil {
				srv.Close()
			}
		})
	})

	cli.Root().Use = "dss"
	cli.Root().Short = "Water-resource decision support service"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// config subcommand: print the resolved domain configuration
	cli.Root().AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the resolved domain configuration as YAML",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			domain, err := serverConfig(opts).Domain()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			out, err := domain.Marshal()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling config: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(string(out))
		}),
	})

	cli.Run()
}
