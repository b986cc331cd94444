// cmd/feed-simulator/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/simulator"
	"github.com/YaganovValera/market-feed/pkg/configloader"
	"github.com/YaganovValera/market-feed/pkg/logger"
	"github.com/YaganovValera/market-feed/pkg/safe"
)

func main() {
	var (
		cfg      simulator.Config
		seed     uint64
		logLevel string
		envFile  string
	)

	root := &cobra.Command{
		Use:          "feed-simulator",
		Short:        "Local WebSocket market data feed for development and tests",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := configloader.LoadDotEnv(envFile); err != nil {
				return err
			}
			if cfg.LoginID == "" {
				cfg.LoginID = os.Getenv("MARKETFEED_AUTH_LOGIN_ID")
			}
			if cfg.Token == "" {
				cfg.Token = os.Getenv("MARKETFEED_AUTH_TOKEN")
			}

			log, err := logger.New(logger.Config{Level: logLevel, DevMode: true})
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sim := simulator.New(cfg, log)
			gen := simulator.NewGenerator(seed)

			g := safe.New(ctx, log)
			g.Go("server", func(ctx context.Context) error { return sim.Run(ctx, gen) })
			g.Go("stats", func(ctx context.Context) error {
				t := time.NewTicker(10 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-t.C:
						log.Info("simulator stats",
							zap.Int("clients", sim.Clients()),
							zap.Int("connects", sim.Connects()),
							zap.Int("heartbeats", sim.Heartbeats()),
						)
					}
				}
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	registerFlags(root.Flags(), &cfg, &seed, &logLevel, &envFile)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "feed-simulator: %v\n", err)
		os.Exit(1)
	}
}

func registerFlags(fs *pflag.FlagSet, cfg *simulator.Config, seed *uint64, logLevel, envFile *string) {
	fs.StringVar(&cfg.Addr, "addr", ":9443", "listen address")
	fs.StringVar(&cfg.Path, "path", "/", "WebSocket path")
	fs.StringVar(&cfg.LoginID, "login-id", "", "required login_id (default $MARKETFEED_AUTH_LOGIN_ID, empty accepts any)")
	fs.StringVar(&cfg.Token, "token", "", "required token (default $MARKETFEED_AUTH_TOKEN)")
	fs.DurationVar(&cfg.TickInterval, "tick", time.Second, "interval between synthetic frames, 0 disables")
	fs.Uint64Var(seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	fs.StringVar(logLevel, "log-level", "info", "debug | info | warn | error")
	fs.StringVar(envFile, "env-file", ".env", "dotenv file")
}
