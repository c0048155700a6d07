package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xhad/moviesearch/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // demo server, any origin
	},
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Mode    string      `json:"mode,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Result is one hit as sent to clients.
type Result struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	MovieName string  `json:"movie_name"`
	Text      string  `json:"text"`
}

// Searcher runs a query in one retrieval mode.
type Searcher interface {
	Search(ctx context.Context, mode models.SearchMode, query string) ([]models.QueryResult, error)
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

type WSServer struct {
	config   Config
	searcher Searcher
	logger   *zap.Logger
	router   chi.Router
}

func NewWSServer(config Config, searcher Searcher) *WSServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	s := &WSServer{
		config:   config,
		searcher: searcher,
		logger:   config.Logger,
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

func (s *WSServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting WebSocket server", zap.String("addr", s.config.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("Server stopped gracefully")
	return nil
}

func (s *WSServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http_request",
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)))
	})
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Error reading message", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: "invalid message: " + err.Error()})
			continue
		}

		s.sendMessage(conn, s.handleMessage(r.Context(), msg))
	}
}

// handleMessage answers a query message. The reply data maps each mode
// that ran to its results; an empty mode runs both.
func (s *WSServer) handleMessage(ctx context.Context, msg Message) Message {
	if msg.Type != "query" {
		return Message{Type: "error", Content: fmt.Sprintf("unsupported message type %q", msg.Type)}
	}
	if msg.Content == "" {
		return Message{Type: "error", Content: "query content is required"}
	}

	modes := []models.SearchMode{models.ModeVector, models.ModeHybrid}
	if msg.Mode != "" {
		mode, err := models.ParseSearchMode(msg.Mode)
		if err != nil {
			return Message{Type: "error", Content: err.Error()}
		}
		modes = []models.SearchMode{mode}
	}

	data := make(map[string][]Result, len(modes))
	for _, mode := range modes {
		results, err := s.searcher.Search(ctx, mode, msg.Content)
		if err != nil {
			s.logger.Error("Search failed", zap.String("mode", string(mode)), zap.Error(err))
			return Message{Type: "error", Content: err.Error()}
		}

		out := make([]Result, 0, len(results))
		for _, r := range results {
			out = append(out, Result{
				ID:        r.ID,
				Score:     r.Score,
				MovieName: r.MovieName(),
				Text:      r.Segment.Text,
			})
		}
		data[string(mode)] = out
	}

	return Message{Type: "results", Content: msg.Content, Mode: msg.Mode, Data: data}
}

func (s *WSServer) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("Error sending message", zap.Error(err))
	}
}
