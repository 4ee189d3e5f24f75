package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Crotoconlaptop/bqt-booking/internal/app"
	"github.com/Crotoconlaptop/bqt-booking/internal/httpapi"
	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "BQT"

	flagStore          = "store"
	flagDatabaseURL    = "database-url"
	flagRemoteAPIURL   = "remote-api-url"
	flagTimeZone       = "time-zone"
	flagAdmitTimeout   = "admit-timeout"
	flagRedisURL       = "redis-url"
	flagAMQPURL        = "amqp-url"
	flagAMQPQueue      = "amqp-queue"
	flagKafkaBrokers   = "kafka-brokers"
	flagKafkaTopic     = "kafka-topic"
	flagHTTPListenAddr = "http-listen-addr"
	flagGRPCListenAddr = "grpc-listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagRequestTimeout = "request-timeout"
	flagStart          = "start"
	flagEnd            = "end"
	flagEnvFile        = "env-file"
)

func main() {
	cmd := newRootCommand(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bqt-booking: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	settings := viper.New()
	cfg := &app.Config{}
	cmd := &cobra.Command{
		Use:           "bqt-booking",
		Short:         "Banquet booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, settings, cfg)
		},
	}
	cmd.SetOut(out)

	flags := cmd.PersistentFlags()
	flags.String(flagEnvFile, ".env", "optional dotenv file loaded before reading the environment")
	flags.String(flagStore, app.BackendGorm, "store backend: gorm, pgx, memory or api")
	flags.String(flagDatabaseURL, "", "database url (postgres://, mysql://, sqlite:// or a sqlite path)")
	flags.String(flagRemoteAPIURL, "", "base url of a remote booking API for the api backend")
	flags.String(flagTimeZone, "", "event time zone deciding what today is for guests")
	flags.Duration(flagAdmitTimeout, booking.DefaultAdmitTimeout, "upper bound of one admission")
	flags.String(flagRedisURL, "", "redis url or host:port for cross-replica date locks")
	flags.String(flagAMQPURL, "", "rabbitmq url for admission events")
	flags.String(flagAMQPQueue, "", "rabbitmq queue for admission events")
	flags.StringSlice(flagKafkaBrokers, nil, "kafka brokers for admission events")
	flags.String(flagKafkaTopic, "", "kafka topic for admission events")

	cmd.AddCommand(newServeCommand(cfg), newExportCommand(cfg), newFullDatesCommand(cfg), newMigrateCommand(cfg))
	return cmd
}

func newServeCommand(cfg *app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, *cfg, logger)
		},
	}
	cmd.Flags().String(flagHTTPListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagGRPCListenAddr, "", "gRPC listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().Duration(flagRequestTimeout, 0, "per-request timeout")
	return cmd
}

func newExportCommand(cfg *app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print reservations of an inclusive date range as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetString(flagStart)
			end, _ := cmd.Flags().GetString(flagEnd)
			dateRange, err := booking.ParseDateRange(start, end)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), *cfg, func(service *booking.Service) error {
				reservations, err := service.ExportRange(cmd.Context(), dateRange)
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				for _, reservation := range reservations {
					if err := encoder.Encode(httpapi.NewReservationPayload(reservation)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().String(flagStart, "", "first date, YYYY-MM-DD")
	cmd.Flags().String(flagEnd, "", "last date, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired(flagStart)
	_ = cmd.MarkFlagRequired(flagEnd)
	return cmd
}

func newFullDatesCommand(cfg *app.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "full-dates",
		Short: "Print every fully booked date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), *cfg, func(service *booking.Service) error {
				dates, err := service.FullDates(cmd.Context())
				if err != nil {
					return err
				}
				for _, date := range dates {
					fmt.Fprintln(cmd.OutOrStdout(), date.String())
				}
				return nil
			})
		},
	}
}

func newMigrateCommand(cfg *app.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := app.Migrate(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (version %d)\n", version)
			return nil
		},
	}
}

func withService(ctx context.Context, cfg app.Config, run func(*booking.Service) error) error {
	runtime, err := app.Build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = runtime.Close() }()
	return run(runtime.Service)
}

func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *app.Config) error {
	if err := loadEnvFile(cmd); err != nil {
		return err
	}
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	*cfg = app.Config{
		StoreBackend:   settings.GetString(flagStore),
		DatabaseURL:    settings.GetString(flagDatabaseURL),
		RemoteAPIURL:   settings.GetString(flagRemoteAPIURL),
		GRPCListenAddr: settings.GetString(flagGRPCListenAddr),
		TimeZone:       settings.GetString(flagTimeZone),
		AdmitTimeout:   settings.GetDuration(flagAdmitTimeout),
		RedisURL:       settings.GetString(flagRedisURL),
		AMQPURL:        settings.GetString(flagAMQPURL),
		AMQPQueue:      settings.GetString(flagAMQPQueue),
		KafkaBrokers:   splitList(settings.GetStringSlice(flagKafkaBrokers)),
		KafkaTopic:     settings.GetString(flagKafkaTopic),
		HTTP: httpapi.Config{
			ListenAddr:     settings.GetString(flagHTTPListenAddr),
			AllowedOrigins: httpapi.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins)),
			RequestTimeout: settings.GetDuration(flagRequestTimeout),
		},
	}
	return cfg.Validate()
}

// loadEnvFile reads the dotenv file when present. Variables already set in the
// environment win.
func loadEnvFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString(flagEnvFile)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// splitList accepts both repeated flags and one comma-separated env value.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
