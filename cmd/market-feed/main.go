// cmd/market-feed/main.go
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/app"
	"github.com/YaganovValera/market-feed/internal/config"
	"github.com/YaganovValera/market-feed/internal/format"
	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/pkg/configloader"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

var (
	cfgFile  string
	envFiles []string
)

func main() {
	root := &cobra.Command{
		Use:           "market-feed",
		Short:         "Market data feed client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configloader.LoadDotEnv(envFiles...)
		},
		RunE: runFeed,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "path to config file (empty for env only)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before config")

	root.AddCommand(
		&cobra.Command{Use: "run", Short: "Connect and stream (default)", RunE: runFeed},
		&cobra.Command{Use: "print-config", Short: "Print the resolved config", RunE: printConfig},
		&cobra.Command{
			Use:   "decode <hex>",
			Short: "Decode one binary frame and print the formatted event",
			Args:  cobra.ExactArgs(1),
			RunE:  decodeFrame,
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "market-feed: %v\n", err)
		os.Exit(1)
	}
}

func runFeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting service",
		zap.String("service.name", cfg.ServiceName),
		zap.String("service.version", cfg.ServiceVersion),
		zap.String("feed.host", cfg.Feed.Host),
		zap.Int("subscriptions", len(cfg.Feed.Subscriptions)),
	)
	if err := app.Run(ctx, cfg, log); err != nil {
		log.Error("application exited with error", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func printConfig(*cobra.Command, []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	configloader.PrintConfig(cfg.Redacted())
	return nil
}

func decodeFrame(cmd *cobra.Command, args []string) error {
	raw, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
	if err != nil {
		return fmt.Errorf("decode: bad hex: %w", err)
	}
	_, rec, err := packet.Decode(raw)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(format.Format(rec), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
