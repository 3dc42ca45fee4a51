// Package httpapi exposes read-only status endpoints and a live event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/service"
	"mt5bot/internal/domain/model"
)

type PositionReader interface {
	Snapshot() []model.Position
	Get(ticket int64) (model.Position, bool)
}

type ParamReader interface {
	List() []*model.StrategyParams
	Get(strategy string) (*model.StrategyParams, bool)
	Confidence(strategy string) float64
}

type StatsReader interface {
	Stats() service.EngineStats
}

type Deps struct {
	Positions PositionReader
	Params    ParamReader
	Stats     StatsReader
	Hub       *Hub
	// StaleAfter marks /healthz unhealthy when the last tick is older; 0 disables.
	StaleAfter time.Duration
}

type Server struct {
	deps Deps
	addr string
	now  func() time.Time
}

func NewServer(addr string, deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	return &Server{deps: deps, addr: addr, now: time.Now}
}

func (s *Server) Hub() *Hub { return s.deps.Hub }

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods("GET")
	r.HandleFunc("/api/positions", s.listPositions).Methods("GET")
	r.HandleFunc("/api/positions/{ticket:[0-9]+}", s.getPosition).Methods("GET")
	r.HandleFunc("/api/strategies", s.listStrategies).Methods("GET")
	r.HandleFunc("/api/strategies/{name}", s.getStrategy).Methods("GET")
	r.HandleFunc("/api/strategies/{name}/confidence", s.getConfidence).Methods("GET")
	r.HandleFunc("/api/stats", s.stats).Methods("GET")
	r.HandleFunc("/ws/events", s.deps.Hub.ServeWS)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stdout, cors(r)))
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("status api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.deps.Hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Stats.Stats()
	body := map[string]any{"status": "ok", "last_tick": st.LastTick, "ticks": st.Ticks}
	if s.deps.StaleAfter > 0 && (st.LastTick.IsZero() || s.now().Sub(st.LastTick) > s.deps.StaleAfter) {
		body["status"] = "stale"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	all := s.deps.Positions.Snapshot()
	strategy := r.URL.Query().Get("strategy")
	if strategy == "" {
		writeJSON(w, http.StatusOK, all)
		return
	}
	out := make([]model.Position, 0, len(all))
	for _, p := range all {
		if p.StrategyName == strategy {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	ticket, err := strconv.ParseInt(mux.Vars(r)["ticket"], 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad ticket")
		return
	}
	p, ok := s.deps.Positions.Get(ticket)
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown ticket")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Params.List())
}

func (s *Server) getStrategy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.deps.Params.Get(name)
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown strategy")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getConfidence(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	writeJSON(w, http.StatusOK, map[string]any{"strategy": name, "min_confidence": s.deps.Params.Confidence(name)})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":      s.deps.Stats.Stats(),
		"positions":   len(s.deps.Positions.Snapshot()),
		"subscribers": s.deps.Hub.Clients(),
	})
}
