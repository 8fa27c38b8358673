package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"xswap/pkg/logger"
	"xswap/pkg/store"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	srv *http.Server
	log *zap.SugaredLogger
}

// NewRouter returns the status routes plus /metrics.
func NewRouter(heights Heights, stores *store.Stores) *mux.Router {
	r := mux.NewRouter()
	addRoutes(r, heights, stores)
	r.Path("/metrics").Handler(promhttp.Handler())
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, StatusNotFound, "no such endpoint")
	})
	return r
}

func NewServer(listen string, heights Heights, stores *store.Stores) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              listen,
			Handler:           NewRouter(heights, stores),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger.Named("api"),
	}
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Infow("listening", "addr", s.srv.Addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
