package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/patientdesk/internal/config"
	"github.com/ehr/patientdesk/internal/display"
	"github.com/ehr/patientdesk/internal/domain/encounter"
	"github.com/ehr/patientdesk/internal/domain/patient"
	"github.com/ehr/patientdesk/internal/platform/db"
	"github.com/ehr/patientdesk/internal/platform/fhirclient"
	"github.com/ehr/patientdesk/internal/platform/metrics"
	"github.com/ehr/patientdesk/internal/roster"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds everything a command needs. It is built once per invocation in
// the root command's PersistentPreRunE.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	registry   *prometheus.Registry
	client     *fhirclient.Client
	patients   *patient.Service
	resolver   *encounter.Resolver
	roster     *roster.Roster
	pool       *pgxpool.Pool
	requestLog *db.RequestLog
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var baseURL string

	rootCmd := &cobra.Command{
		Use:          "patientdesk",
		Short:        "Manage FHIR Patients and their latest encounters",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context(), baseURL, cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "FHIR server base URL (overrides FHIR_BASE_URL)")

	rootCmd.AddCommand(searchCmd(a))
	rootCmd.AddCommand(createCmd(a))
	rootCmd.AddCommand(updateCmd(a))
	rootCmd.AddCommand(deleteCmd(a))
	rootCmd.AddCommand(encounterCmd(a))
	rootCmd.AddCommand(requestLogCmd(a))
	rootCmd.AddCommand(serveCmd(a))

	return rootCmd
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func (a *app) setup(ctx context.Context, baseURL string, logOut io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if baseURL != "" {
		cfg.FHIRBaseURL = baseURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg, logOut)

	a.registry = prometheus.NewRegistry()
	deskMetrics := metrics.NewDeskMetrics(a.registry)

	a.client, err = fhirclient.New(fhirclient.Config{
		BaseURL:   cfg.FHIRBaseURL,
		Timeout:   cfg.FHIRTimeout,
		Logger:    a.logger,
		Observers: []fhirclient.Observer{deskMetrics},
	})
	if err != nil {
		return err
	}

	if cfg.RequestLogEnabled() {
		a.pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, a.logger)
		if err != nil {
			return err
		}
		a.requestLog = db.NewRequestLog(a.pool, a.logger)
		if err := a.requestLog.EnsureSchema(ctx); err != nil {
			a.pool.Close()
			return err
		}
		a.client.AddObserver(a.requestLog)
	}

	a.patients = patient.NewService(a.client, a.logger)
	a.patients.SetSearchCount(cfg.SearchCount)
	a.resolver = encounter.NewResolver(a.client, a.logger)
	a.resolver.SetObserver(deskMetrics)
	a.roster = roster.New(a.patients, a.resolver, display.NewTable(), a.logger)

	a.logger.Debug().
		Str("fhir_base_url", cfg.FHIRBaseURL).
		Bool("request_log", cfg.RequestLogEnabled()).
		Msg("patientdesk configured")
	return nil
}

func (a *app) close() {
	if a.roster != nil {
		a.roster.Wait()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
