package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	api "github.com/safemasking/masking-api/api/v1alpha1"
	"github.com/safemasking/masking-api/internal/auth"
	"github.com/safemasking/masking-api/internal/config"
	handlers "github.com/safemasking/masking-api/internal/handlers/v1alpha1"
	"github.com/safemasking/masking-api/internal/service"
	"github.com/safemasking/masking-api/internal/store"
	"github.com/safemasking/masking-api/pkg/metrics"
	"github.com/safemasking/masking-api/pkg/middleware"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	jobSrv   *service.JobService
	listener net.Listener
}

// New returns a new instance of the masking api server.
func New(
	cfg *config.Config,
	store store.Store,
	jobService *service.JobService,
	listener net.Listener,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		jobSrv:   jobService,
		listener: listener,
	}
}

func oapiErrorHandler(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(api.Error{Message: fmt.Sprintf("API Error: %s", message)})
}

// Handler builds the router. Requests are checked against the OpenAPI
// document before reaching the handlers; the field rules that depend on the
// job, such as ownership, are left to the handlers. The metrics middleware is
// registered on the default prometheus registry, so it is built once per
// process.
func (s *Server) Handler(authenticator auth.Authenticator) (http.Handler, error) {
	swagger, err := api.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("failed to load swagger spec: %w", err)
	}
	// Skip server name validation
	swagger.Servers = nil

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Service.AllowedOrigins,
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
		oapimiddleware.OapiRequestValidatorWithOptions(swagger, &oapimiddleware.Options{
			ErrorHandler: oapiErrorHandler,
		}),
	)

	handlers.NewServiceHandler(s.jobSrv).Mount(router, authenticator.Authenticator)
	return router, nil
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	authenticator, err := auth.NewAuthenticator(s.cfg.Service.Auth, s.store.User())
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	handler, err := s.Handler(authenticator)
	if err != nil {
		return err
	}

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: handler}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
