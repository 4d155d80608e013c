package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/ehr/patientdesk/internal/platform/db"
	"github.com/ehr/patientdesk/internal/platform/middleware"
	"github.com/ehr/patientdesk/internal/web"
)

func serveCmd(a *app) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the patient table as a web page",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == "" {
				port = a.cfg.Port
			}
			return a.runServer(":" + port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default PORT)")
	return cmd
}

func (a *app) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("64K"))

	opts := web.Options{
		BaseURL:     a.client.BaseURL(),
		SearchCount: a.cfg.SearchCount,
		Gatherer:    a.registry,
	}
	if a.pool != nil {
		opts.RequestLog = db.Pinger(a.pool)
	}
	web.NewHandler(a.roster, a.logger, opts).RegisterRoutes(e)
	return e
}

func (a *app) runServer(addr string) error {
	e := a.newEcho()

	// Graceful shutdown
	go func() {
		a.logger.Info().Str("addr", addr).Str("fhir_base_url", a.client.BaseURL()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return err
	}
	a.logger.Info().Msg("server stopped")
	return nil
}
