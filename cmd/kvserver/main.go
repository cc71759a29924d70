package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"stripedkv/engine"
	"stripedkv/server"
	"stripedkv/wal"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "kvserver",
		Short: "Durable striped key-value server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":50051", "TCP address to listen on")
	flags.String("wal-path", "wal.log", "path to the write-ahead log file")
	flags.Int("lock-stripes", engine.DefaultLockStripes, "number of lock-table stripes (rounded up to a power of two)")
	flags.Int("workers", server.DefaultWorkers, "maximum number of requests executed against the engine concurrently")
	flags.Uint32("max-message-bytes", server.DefaultMaxMessageBytes, "maximum size of a single request/response frame")
	flags.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables metrics")

	v.BindPFlags(flags)
	v.SetEnvPrefix("KVSERVER")
	v.AutomaticEnv()

	return cmd
}

func run(v *viper.Viper) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()
	sugar := log.Sugar()

	w, err := wal.NewWAL(wal.Config{Path: v.GetString("wal-path")})
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}

	eng, err := engine.New(w, v.GetInt("lock-stripes"), sugar)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	srv := server.NewServer(server.Config{
		Addr:            v.GetString("addr"),
		Workers:         v.GetInt("workers"),
		MaxMessageBytes: v.GetUint32("max-message-bytes"),
	}, eng, sugar)

	var metrics *server.MetricsServer
	if addr := v.GetString("metrics-addr"); addr != "" {
		metrics = server.NewMetricsServer(addr, eng)
		go func() {
			if err := metrics.Start(); err != nil {
				sugar.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-sigCh:
		sugar.Infow("shutting down", "signal", sig.String())
		srv.Stop()
		if metrics != nil {
			metrics.Shutdown(context.Background())
		}
	}

	return nil
}
