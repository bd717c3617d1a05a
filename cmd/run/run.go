// Package run contains the command to run an inkwell server.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inkwell-hq/inkwell/internal/gateway"
	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/server"
	serverconfig "github.com/inkwell-hq/inkwell/pkg/server/config"
	"github.com/inkwell-hq/inkwell/pkg/storage"
	"github.com/inkwell-hq/inkwell/pkg/storage/memory"
	"github.com/inkwell-hq/inkwell/pkg/storage/postgres"
	"github.com/inkwell-hq/inkwell/pkg/storage/sqlcommon"
	"github.com/inkwell-hq/inkwell/pkg/storage/sqlite"
)

// NewRunCommand runs the inkwell server.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Inkwell server",
		Long:  "Run the Inkwell server.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	bindRunFlags(cmd)

	return cmd
}

// ReadConfig reads the server config from flags, env and config file, in
// that order of precedence.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	log := logger.MustNewLogger(config.Log.Format, config.Log.Level)
	serverCtx := &ServerContext{Logger: log}
	if err := serverCtx.Run(context.Background(), config); err != nil {
		panic(err)
	}
}

// ServerContext holds the state shared by the run command's components.
type ServerContext struct {
	Logger logger.Logger
}

func (s *ServerContext) datastoreConfig(config *serverconfig.Config) (storage.Datastore, error) {
	datastoreOptions := []sqlcommon.DatastoreOption{
		sqlcommon.WithUsername(config.Datastore.Username),
		sqlcommon.WithPassword(config.Datastore.Password),
		sqlcommon.WithLogger(s.Logger),
		sqlcommon.WithMaxOpenConns(config.Datastore.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(config.Datastore.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(config.Datastore.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(config.Datastore.ConnMaxLifetime),
	}

	if config.Datastore.Metrics.Enabled {
		datastoreOptions = append(datastoreOptions, sqlcommon.WithMetrics())
	}

	dsCfg := sqlcommon.NewConfig(datastoreOptions...)

	var datastore storage.Datastore
	var err error
	switch config.Datastore.Engine {
	case "memory":
		datastore = memory.New()
	case "postgres":
		datastore, err = postgres.New(config.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres datastore: %w", err)
		}
	case "sqlite":
		datastore, err = sqlite.New(config.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite datastore: %w", err)
		}
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", config.Datastore.Engine)
	}

	s.Logger.Info(fmt.Sprintf("using '%v' storage engine", config.Datastore.Engine))

	return datastore, nil
}

// Run starts the engine and the operational HTTP endpoint and blocks until
// the process is signalled to stop.
func (s *ServerContext) Run(ctx context.Context, config *serverconfig.Config) error {
	datastore, err := s.datastoreConfig(config)
	if err != nil {
		return err
	}
	defer datastore.Close()

	transport := gateway.NewPooledTransport(s.Logger, s.eventSink(), config.EventWorkers)

	svc, err := server.NewServer(datastore, config.CacheSize,
		server.WithLogger(s.Logger),
		server.WithTransport(transport),
	)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer svc.Close()

	var httpServer *http.Server
	if config.HTTP.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			status, err := datastore.IsReady(r.Context())
			if err != nil || !status.IsReady {
				http.Error(w, status.Message, http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		handler := cors.New(cors.Options{
			AllowedOrigins: config.HTTP.CORSAllowedOrigins,
			AllowedHeaders: config.HTTP.CORSAllowedHeaders,
			AllowedMethods: []string{http.MethodGet},
		}).Handler(mux)

		httpServer = &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: handler,
		}

		go func() {
			s.Logger.Info(fmt.Sprintf("starting HTTP endpoint on %s", config.HTTP.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Fatal("HTTP endpoint closed unexpectedly", zap.Error(err))
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case <-signals:
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.Logger.Warn("failed to shutdown the HTTP endpoint", zap.Error(err))
		}
	}

	return nil
}

// eventSink logs committed events; embedding applications replace this with
// their notification delivery.
func (s *ServerContext) eventSink() gateway.Sink {
	return func(ctx context.Context, event access.Event) {
		s.Logger.InfoWithContext(ctx, "event",
			zap.String("name", string(event.Name)),
			zap.String("principal", event.Principal.String()),
			zap.String("resource", event.Resource.String()),
			zap.String("actor_id", event.ActorID),
		)
	}
}
