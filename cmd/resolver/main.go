package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hazyhaar/hifi-resolver/pkg/engine"
	"github.com/hazyhaar/hifi-resolver/pkg/service"
	"github.com/hazyhaar/hifi-resolver/pkg/store"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:   "resolver",
		Short: "Entity resolution for hifi product listings",
		Long: `resolver normalizes hifi product listings, corrects their category and
matches them against a catalog of known products.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./resolver.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("rules-dir", "", "directory with brands.yaml and categories.yaml (default: embedded rules)")
	flags.String("catalog-db", "", "SQLite catalog database")

	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("rules.dir", flags.Lookup("rules-dir"))
	_ = viper.BindPFlag("catalog.db", flags.Lookup("catalog-db"))

	root.AddCommand(serveCmd())
	root.AddCommand(normalizeCmd())
	root.AddCommand(compareBrandsCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(matchCmd())
	root.AddCommand(catalogCmd())
	root.AddCommand(reviewsCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(versionCmd())
	return root
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("interrupt received, shutting down")
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("resolver")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault("server.addr", ":8430")
	viper.SetDefault("match.append_rejects", false)
	viper.SetDefault("stream.enabled", false)
	viper.SetDefault("stream.brokers", []string{})
	viper.SetDefault("stream.input_topic", "listings")
	viper.SetDefault("stream.output_topic", "listing-decisions")
	viper.SetDefault("stream.group_id", "hifi-resolver")

	viper.SetEnvPrefix("RESOLVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	setupLogging(cmd.ErrOrStderr())
	return nil
}

func setupLogging(w io.Writer) {
	var level slog.Level
	switch viper.GetString("logging.level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if viper.GetString("logging.format") == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "resolver %s\n", version)
		},
	}
}

// openService builds a service from the configured rules and, when one is
// configured, the catalog database. The returned cleanup closes the store.
func openService(ctx context.Context, requireStore bool) (*service.Service, func(), error) {
	eng, err := engine.Load(viper.GetString("rules.dir"))
	if err != nil {
		return nil, nil, err
	}
	logger := slog.Default()
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithAppendRejects(viper.GetBool("match.append_rejects")),
	}

	cleanup := func() {}
	path := viper.GetString("catalog.db")
	switch {
	case path != "":
		st, err := store.Open(path)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, service.WithStore(st))
		cleanup = func() {
			if err := st.Close(); err != nil {
				logger.Warn("close catalog", "error", err)
			}
		}
	case requireStore:
		return nil, nil, errors.New("no catalog database configured (use --catalog-db)")
	}

	svc := service.New(eng, opts...)
	n, err := svc.LoadCatalog(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Debug("catalog loaded", "entries", n, "rules_version", eng.Rules.Version)
	return svc, cleanup, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
