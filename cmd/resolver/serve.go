package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hazyhaar/hifi-resolver/pkg/api"
	"github.com/hazyhaar/hifi-resolver/pkg/chassis"
	"github.com/hazyhaar/hifi-resolver/pkg/stream"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and MCP server",
		Long: `Start the resolver server. SIGHUP reloads the rule files from --rules-dir;
SIGINT or SIGTERM shut it down gracefully. With stream.enabled set, listings
are also consumed from Kafka.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().String("addr", ":8430", "listen address")
	cmd.Flags().Bool("append-rejects", false, "add rejected listings to the catalog")
	cmd.Flags().Bool("stream", false, "consume listings from Kafka")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().Bool("tls-self-signed", false, "serve TLS with a generated development certificate")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("match.append_rejects", cmd.Flags().Lookup("append-rejects"))
	_ = viper.BindPFlag("stream.enabled", cmd.Flags().Lookup("stream"))
	_ = viper.BindPFlag("server.tls.cert", cmd.Flags().Lookup("tls-cert"))
	_ = viper.BindPFlag("server.tls.key", cmd.Flags().Lookup("tls-key"))
	_ = viper.BindPFlag("server.tls.self_signed", cmd.Flags().Lookup("tls-self-signed"))
	return cmd
}

func runServe(ctx context.Context) error {
	logger := slog.Default()
	rulesDir := viper.GetString("rules.dir")

	svc, cleanup, err := openService(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	rs := svc.Rules()
	st := svc.Stats()
	logger.Info("resolver ready",
		"rules_version", rs.Version,
		"rules_source", rs.Source,
		"entries", st.Entries,
		"store", svc.HasStore(),
	)

	srv, err := chassis.New(chassis.Config{
		Addr:       viper.GetString("server.addr"),
		CertFile:   viper.GetString("server.tls.cert"),
		KeyFile:    viper.GetString("server.tls.key"),
		SelfSigned: viper.GetBool("server.tls.self_signed"),
		Handler:    api.NewRouter(svc, logger, version),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP: hot reload rules.
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				logger.Info("SIGHUP received, reloading rules", "dir", rulesDir)
				if err := svc.Reload(rulesDir); err != nil {
					logger.Error("reload failed, keeping current rules", "error", err)
				}
			}
		}
	}()

	var consumer *stream.Consumer
	if viper.GetBool("stream.enabled") {
		var cfg stream.Config
		if err := viper.UnmarshalKey("stream", &cfg); err != nil {
			return fmt.Errorf("stream config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		consumer = stream.NewConsumer(stream.NewKafkaReader(cfg), stream.NewKafkaWriter(cfg), svc, logger.With("component", "stream"))
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("stream consumer", "error", err)
			}
		}()
		logger.Info("stream consumer enabled", "brokers", cfg.Brokers, "input", cfg.InputTopic, "output", cfg.OutputTopic)
	}

	err = srv.ListenAndServe(ctx)
	if consumer != nil {
		err = errors.Join(err, consumer.Close())
	}
	return err
}
