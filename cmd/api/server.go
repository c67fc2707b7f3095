package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"finsync/internal/interfaces/scheduler"
	"finsync/internal/shared/config"
	"finsync/internal/shared/middleware"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Handler      http.Handler
	Addr         string
	TLSEnabled   bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
	AllowedHosts []string
	Logger       logrus.FieldLogger
}

// StartServers creates and starts the main server and optional redirect server.
// Returns the main server and redirect server (nil if not enabled). A listener
// failure is sent on the returned channel.
func StartServers(scfg ServerConfig) (*http.Server, *http.Server, <-chan error) {
	errCh := make(chan error, 2)
	log := scfg.Logger

	srv := &http.Server{
		Addr:         scfg.Addr,
		Handler:      scfg.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var redirectSrv *http.Server

	if scfg.TLSEnabled && scfg.RedirectHTTP {
		redirectSrv = createRedirectServer(scfg.AllowedHosts)
		go func() {
			log.WithField("addr", redirectSrv.Addr).Info("HTTP redirect server starting")
			if err := redirectSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	go func() {
		var err error
		if scfg.TLSEnabled {
			log.WithField("addr", scfg.Addr).Info("HTTPS server starting")
			err = srv.ListenAndServeTLS(scfg.CertPath, scfg.KeyPath)
		} else {
			log.WithField("addr", scfg.Addr).Info("HTTP server starting")
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return srv, redirectSrv, errCh
}

// GracefulShutdown stops the servers first so no new pass is triggered, then
// waits for the scheduler's passes to finish their current page.
func GracefulShutdown(log logrus.FieldLogger, srv, redirectSrv *http.Server, sched *scheduler.Scheduler, timeout time.Duration) {
	log.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if redirectSrv != nil {
		if err := redirectSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("error shutting down HTTP redirect server")
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("error shutting down main server")
	}

	if sched != nil && !sched.Shutdown(timeout) {
		log.Warn("sync pass did not stop before the shutdown timeout")
	}

	log.Info("server stopped")
}

// createRedirectServer creates an HTTP server that redirects all requests to HTTPS.
func createRedirectServer(allowedHosts []string) *http.Server {
	return &http.Server{
		Addr:         ":80",
		Handler:      middleware.RequireHTTPS(allowedHosts)(http.NotFoundHandler()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServerConfigFromConfig creates ServerConfig from application config.
func NewServerConfigFromConfig(handler http.Handler, cfg *config.Config, logger logrus.FieldLogger) ServerConfig {
	return ServerConfig{
		Handler:      handler,
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		TLSEnabled:   cfg.TLS.Enabled,
		CertPath:     cfg.TLS.CertPath,
		KeyPath:      cfg.TLS.KeyPath,
		RedirectHTTP: cfg.TLS.RedirectHTTP,
		AllowedHosts: cfg.Server.AllowedHosts,
		Logger:       logger,
	}
}
