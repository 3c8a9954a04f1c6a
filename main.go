package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/devrelay/devrelay/lib/config"
	"github.com/devrelay/devrelay/lib/server"
	"github.com/devrelay/devrelay/lib/util"
	"github.com/devrelay/devrelay/lib/util/logger"
	"github.com/devrelay/devrelay/lib/util/signals"
)

var version = "dev" // set by the linker

var log = logger.GetDevRelayLogger()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devrelay",
		Short: "devrelay relays remote-control commands between administrators and devices.",
		Long: `devrelay accepts WebSocket connections from enrolled devices and from
administrator sessions, forwards remote_control requests to the named device
and broadcasts each device's responses back to the administrators.

Running without a subcommand starts the server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	cmd.Version = version
	cmd.PersistentFlags().StringVar(&config.CfgFile, "config", "",
		"config file (default is $HOME/"+config.DEVRELAY_BASE_DIR+"/config.yaml)")

	cmd.AddCommand(newVersionCmd(), newCheckConfigCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the devrelay version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewConfigFromViper()
			if err := config.Validate(*cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return nil
		},
	}
}

// run serves until SIGINT/SIGTERM, ctx is cancelled or the HTTP server
// fails. Every path goes through the same shutdown handlers.
func run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.NewConfigFromViper()
	logger.SetLevelName(cfg.Log.Level)

	srv, err := server.CreateServer(ctx, cfg)
	if err != nil {
		return err
	}
	util.RegisterCloser(srv)

	if err := srv.Start(); err != nil {
		util.CloseAll()
		return err
	}

	signals.SetGracefulTimeout(cfg.Server.ShutdownTimeout)
	done := make(chan struct{})
	var closeOnce sync.Once
	ids := []signals.HandlerID{
		signals.RegisterReloadHandler(func() {
			next, err := config.Reload()
			if err != nil {
				log.WithError(err).Warn("config_reload_failed")
				return
			}
			srv.ApplyConfig(next)
		}),
		signals.RegisterPreShutdownHandler(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil {
				log.WithError(err).Warn("shutdown_incomplete")
			}
		}),
		signals.RegisterInterruptHandler(func() {
			closeOnce.Do(func() {
				util.CloseAll()
				close(done)
			})
		}),
	}
	defer func() {
		for _, id := range ids {
			signals.Deregister(id)
		}
	}()

	go func() {
		select {
		case err := <-srv.Failed():
			log.WithError(err).Error("http_server_failed_shutting_down")
			signals.Trigger()
		case <-ctx.Done():
			signals.Trigger()
		case <-done:
		}
	}()

	go signals.Handle()
	<-done
	signals.StopHandle()
	return nil
}
