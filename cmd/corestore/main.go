// corestore is the admin CLI for the embedded transactional object store:
// serve opens a store and installs its persistence sink, inspect reports
// catalog and index state, and replay recovers a store from its sink
// without serving anything.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cuemby/corestore/pkg/config"
	"github.com/cuemby/corestore/pkg/engine"
	"github.com/cuemby/corestore/pkg/log"
	"github.com/cuemby/corestore/pkg/metrics"
	"github.com/cuemby/corestore/pkg/sink"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var (
	opts       = config.Defaults()
	configFile string
	schemaPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "corestore",
	Short:   "corestore - embedded transactional object store admin CLI",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Flags are parsed before this hook runs; remember the ones set
		// explicitly so they still win over the YAML and env layers.
		changed := map[string]string{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })
		if err := opts.LoadYAML(configFile); err != nil {
			return err
		}
		if err := opts.LoadEnv(); err != nil {
			return err
		}
		for name, value := range changed {
			if err := cmd.Flags().Set(name, value); err != nil {
				return err
			}
		}
		log.Init(log.Config{Level: log.Level(opts.LogLevel)})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("corestore version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "YAML table/relationship/index definition file")
	opts.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(replayCmd)
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics on")
}

// sinkPath returns where serve/inspect/replay keep a store's persistence
// file within its configured data directory, or "" if persistence is off.
func sinkPath() string {
	if opts.DataDirectory == "" {
		return ""
	}
	return filepath.Join(opts.DataDirectory, "corestore.db")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "open a store, replay and install its persistence sink, and serve metrics until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		db := engine.New(opts.Engine())
		if err := loadSchema(schemaPath, db); err != nil {
			return err
		}

		if path := sinkPath(); path != "" {
			if err := os.MkdirAll(opts.DataDirectory, 0o700); err != nil {
				return fmt.Errorf("create data directory: %w", err)
			}
			store, err := sink.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Replay(db); err != nil {
				return fmt.Errorf("replay on startup: %w", err)
			}
			db.SetSink(store)
			fmt.Printf("✓ persistence sink: %s\n", path)
		}

		metrics.SetVersion(Version)
		metrics.RegisterComponent("engine", true, "store open")

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ metrics endpoint:  http://%s/metrics\n", metricsAddr)
		fmt.Printf("✓ health check:      http://%s/health\n", metricsAddr)
		fmt.Printf("✓ readiness:         http://%s/ready\n", metricsAddr)
		fmt.Printf("✓ liveness:          http://%s/live\n", metricsAddr)
		fmt.Println("✓ store open, waiting for signal")

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		fmt.Println("shutting down")
		return server.Close()
	},
}
