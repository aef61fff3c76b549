package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/wsgate/internal/config"
	"github.com/muurk/wsgate/internal/logging"
	"github.com/muurk/wsgate/internal/server"
	"github.com/muurk/wsgate/internal/session"
	"github.com/muurk/wsgate/internal/stream"
	"github.com/muurk/wsgate/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WebSocket server",
	Long: `Start a WebSocket server that echoes every message it receives.

Settings are read from the configuration file (see 'wsgate config path')
and can be overridden with flags. Plain HTTP requests are answered with
426 Upgrade Required.

To capture received messages for analysis, use --analysis-dir to name a
directory where a JSONL capture file will be written.`,
	Example: `  # Listen on all interfaces, port 8080
  wsgate serve

  # Listen on a unix socket with debug logging
  wsgate serve --network unix --listen /run/wsgate.sock --log-level debug

  # Only upgrade requests for /ws, advertise over mDNS
  wsgate serve --path /ws --advertise

  # Tight queue and timeouts, capture messages
  wsgate serve --max-queue 64 --write-timeout 1s --analysis-dir ./captures`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("config", "", "Path to configuration file (default: platform config dir)")
	f.String("listen", "", "Listen address (host:port, or socket path for unix)")
	f.String("network", "", "Listen network: tcp or unix")
	f.String("path", "", "Only upgrade requests for this path")
	f.String("health-path", "", "Answer plain GETs on this path with 200 ok")
	f.StringSlice("subprotocol", nil, "Supported subprotocols in preference order")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.String("log-format", "", "Log format (console, json)")
	f.String("analysis-dir", "", "Directory to write message capture files (disabled if not specified)")
	f.Bool("advertise", false, "Advertise the server over mDNS")
	f.String("instance", "", "mDNS instance name (default: hostname)")
	f.Int("max-queue", 0, "Maximum queued writes per connection")
	f.Duration("write-timeout", 0, "Per-write timeout (0 disables)")
	f.Duration("shutdown-timeout", 0, "Half-close timeout (0 disables)")
	f.Duration("close-timeout", 0, "Closing handshake timeout")
	f.Int("fragment-size", 0, "Fragment outgoing messages larger than this (0 = never)")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Server.AnalysisDir != "" {
		info, err := os.Stat(cfg.Server.AnalysisDir)
		if err != nil {
			return fmt.Errorf("cannot access analysis directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("analysis path is not a directory: %s", cfg.Server.AnalysisDir)
		}
	}

	if err := logging.InitializeWithFormat(logLevelFor(cmd, cfg), cfg.Log.Format); err != nil {
		return err
	}
	defer logging.Sync()

	srv, err := server.New(serverConfig(cfg), nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if ui.IsTerminal() {
		fmt.Println(ui.NewHeader("wsgate server", "wsgate "+strings.Join(os.Args[1:], " "), serveParams(cfg)).Render())
	}
	return srv.Start()
}

// logLevelFor picks the log level: the flag, then WSGATE_LOG_LEVEL, then
// the config file.
func logLevelFor(cmd *cobra.Command, cfg *config.Config) string {
	if cmd.Flags().Changed("log-level") {
		return cfg.Log.Level
	}
	if env := os.Getenv(logging.LogLevelEnvVar); env != "" {
		return env
	}
	return cfg.Log.Level
}

// applyServeFlags copies explicitly set flags over the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}

	set("listen", func() (e error) { cfg.Server.Address, e = f.GetString("listen"); return })
	set("network", func() (e error) { cfg.Server.Network, e = f.GetString("network"); return })
	set("path", func() (e error) { cfg.Server.Path, e = f.GetString("path"); return })
	set("health-path", func() (e error) { cfg.Server.HealthPath, e = f.GetString("health-path"); return })
	set("subprotocol", func() (e error) { cfg.Server.Subprotocols, e = f.GetStringSlice("subprotocol"); return })
	set("log-level", func() (e error) { cfg.Log.Level, e = f.GetString("log-level"); return })
	set("log-format", func() (e error) { cfg.Log.Format, e = f.GetString("log-format"); return })
	set("analysis-dir", func() (e error) { cfg.Server.AnalysisDir, e = f.GetString("analysis-dir"); return })
	set("advertise", func() (e error) { cfg.Discovery.Advertise, e = f.GetBool("advertise"); return })
	set("instance", func() (e error) { cfg.Discovery.Instance, e = f.GetString("instance"); return })
	set("max-queue", func() (e error) { cfg.Connection.MaxQueueSize, e = f.GetInt("max-queue"); return })
	set("write-timeout", func() (e error) { cfg.Connection.WriteTimeout, e = f.GetDuration("write-timeout"); return })
	set("shutdown-timeout", func() (e error) { cfg.Connection.ShutdownTimeout, e = f.GetDuration("shutdown-timeout"); return })
	set("close-timeout", func() (e error) { cfg.Connection.CloseTimeout, e = f.GetDuration("close-timeout"); return })
	set("fragment-size", func() (e error) { cfg.Connection.FragmentSize, e = f.GetInt("fragment-size"); return })
	return err
}

// serverConfig maps the file configuration onto the server's.
func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Network: cfg.Server.Network,
		Address: cfg.Server.Address,
		Connection: session.Options{
			Stream: stream.Options{
				MaxQueueSize:    cfg.Connection.MaxQueueSize,
				WriteTimeout:    cfg.Connection.WriteTimeout,
				ShutdownTimeout: cfg.Connection.ShutdownTimeout,
			},
			CloseTimeout:   cfg.Connection.CloseTimeout,
			FragmentSize:   cfg.Connection.FragmentSize,
			MaxFrameSize:   cfg.Connection.MaxFrameSize,
			MaxMessageSize: cfg.Connection.MaxMessageSize,
			Path:           cfg.Server.Path,
			Subprotocols:   cfg.Server.Subprotocols,
			Routes:         serveRoutes(cfg),
		},
		AnalysisDir:  cfg.Server.AnalysisDir,
		Advertise:    cfg.Discovery.Advertise,
		Instance:     cfg.Discovery.Instance,
		ShutdownWait: cfg.Server.ShutdownWait,
	}
}

func serveRoutes(cfg *config.Config) []session.Route {
	if cfg.Server.HealthPath == "" {
		return nil
	}
	return []session.Route{{Pattern: cfg.Server.HealthPath, Priority: 1, Handler: session.Healthy}}
}

func serveParams(cfg *config.Config) map[string]string {
	params := map[string]string{
		"Listen":  cfg.Server.Network + " " + cfg.Server.Address,
		"Queue":   fmt.Sprintf("%d writes", cfg.Connection.MaxQueueSize),
		"Timeout": fmt.Sprintf("write %s, shutdown %s", cfg.Connection.WriteTimeout, cfg.Connection.ShutdownTimeout),
	}
	if cfg.Server.Path != "" {
		params["Path"] = cfg.Server.Path
	}
	if cfg.Server.HealthPath != "" {
		params["Health"] = cfg.Server.HealthPath
	}
	if cfg.Server.AnalysisDir != "" {
		params["Capture"] = cfg.Server.AnalysisDir
	}
	if cfg.Discovery.Advertise {
		params["mDNS"] = "advertising"
	}
	return params
}
