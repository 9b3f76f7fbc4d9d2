package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/mobu/internal/api"
	"github.com/wesleyorama2/mobu/internal/business"
	"github.com/wesleyorama2/mobu/internal/config"
	"github.com/wesleyorama2/mobu/internal/flock"
	"github.com/wesleyorama2/mobu/internal/identity"
	"github.com/wesleyorama2/mobu/internal/jupyter"
	"github.com/wesleyorama2/mobu/internal/logging"
	"github.com/wesleyorama2/mobu/internal/manager"
	"github.com/wesleyorama2/mobu/internal/metrics"
	"github.com/wesleyorama2/mobu/internal/notebook"
	"github.com/wesleyorama2/mobu/internal/status"
	"github.com/wesleyorama2/mobu/internal/tap"
)

// devToken is handed to every monkey when no token admin credential is set.
const devToken = "mobu-development-token"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mobu service",
	Long: `Run the mobu service: the flock control API on listen_address, the
Prometheus endpoint, the status reporter, and any autostart flocks.

Settings come from --config and MOBU_* environment variables.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "config file (YAML)")
	serveCmd.Flags().String("listen", "", "listen address (overrides listen_address)")
	serveCmd.Flags().String("log-level", "", "log level (overrides log_level)")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")

	v := viper.New()
	v.BindPFlag("listen_address", cmd.Flags().Lookup("listen"))
	v.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))

	settings, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{Level: settings.LogLevel, Format: settings.LogFormat})

	srv, err := newServer(settings, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", settings.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", settings.ListenAddress, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.run(ctx, ln)
}

// server wires the manager, reporter, and control API together.
type server struct {
	settings config.Settings
	logger   zerolog.Logger
	manager  *manager.Manager
	reporter *status.Reporter
	handler  http.Handler
}

func newServer(settings config.Settings, logger zerolog.Logger) (*server, error) {
	reporter, err := status.New(status.Config{
		Webhook:  settings.SlackWebhook,
		Schedule: settings.StatusSchedule,
		Timeout:  settings.HTTPTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	var issuer identity.Issuer
	if settings.GafaelfawrToken != "" {
		issuer = identity.NewTokenIssuer(settings.EnvironmentURL, settings.GafaelfawrToken, settings.HTTPTimeout)
	} else {
		logger.Warn().Msg("No token admin credential configured, monkeys share a static development token")
		issuer = identity.StaticIssuer{Token: devToken}
	}

	env := business.Environment{
		Jupyter: jupyter.Factory(jupyter.Config{
			BaseURL:     settings.EnvironmentURL,
			HTTPTimeout: settings.HTTPTimeout,
		}),
		Query: tap.Factory(tap.Config{BaseURL: settings.EnvironmentURL}),
	}
	if settings.NotebookPath != "" {
		env.Notebooks = notebook.NewRepository(settings.NotebookPath)
	}

	mgr := manager.New(flock.Deps{
		Issuer:      issuer,
		Env:         env,
		Logger:      logger,
		GracePeriod: settings.StopGracePeriod,
		OnFailure:   reporter.Alert,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewCollector(mgr.FlockStats),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &server{
		settings: settings,
		logger:   logger,
		manager:  mgr,
		reporter: reporter,
		handler:  api.NewRouter(api.NewHandler(mgr, logger), registry),
	}, nil
}

// autostart creates the flocks listed in the autostart file, if any.
func (s *server) autostart(ctx context.Context) error {
	if s.settings.AutostartPath == "" {
		return nil
	}
	cfgs, err := flock.LoadConfigs(s.settings.AutostartPath)
	if err != nil {
		return err
	}
	s.logger.Info().Int("flocks", len(cfgs)).Str("path", s.settings.AutostartPath).Msg("Starting autostart flocks")
	return s.manager.Autostart(ctx, cfgs)
}

// run serves on ln until ctx is canceled, then drains everything.
func (s *server) run(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.autostart(ctx); err != nil {
		ln.Close()
		s.shutdown()
		return fmt.Errorf("autostart failed: %w", err)
	}
	s.reporter.Start(s.manager)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", ln.Addr().String()).Msg("Listening")
		errCh <- httpServer.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("Shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	s.shutdown()

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func (s *server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.StopGracePeriod+5*time.Second)
	defer cancel()

	if err := s.reporter.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Status reporter did not stop cleanly")
	}
	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Some flocks did not stop cleanly")
	}
	s.logger.Info().Msg("All flocks stopped")
}
