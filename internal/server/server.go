package server

import (
	"context"
	"net/http"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Engine is the part of the synchronization engine the HTTP surface reads
type Engine interface {
	Track(events []models.TrackedEvent, priorityIDs map[string]bool)
	Seed(ctx context.Context) (int, error)
	GetState(eventID string) (models.ScoreState, bool)
	States() map[string]models.ScoreState
	History(eventID string) []models.ScoreState
	Mechanism(eventID string) models.Mechanism
	Subscriptions() []models.SubscriptionInfo
	ForceRefresh(ctx context.Context) error
	Snapshot() models.MonitoringSnapshot
	SubscribeMonitoring(fn func(models.MonitoringSnapshot)) (unsubscribe func())
	PushStatus() models.PushStatus
	SubscribePushStatus(fn func(models.PushStatus)) (unsubscribe func())
}

// Options configures the router
type Options struct {
	CORSOrigins []string
}

// Server exposes the engine over HTTP and a websocket monitoring stream
type Server struct {
	engine  Engine
	hub     *Hub
	log     *zap.Logger
	now     func() time.Time
	started time.Time
	opts    Options
}

// New creates a server; call Start to begin streaming
func New(engine Engine, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		engine:  engine,
		hub:     NewHub(),
		log:     zap.L().With(zap.String("component", "http")),
		now:     time.Now,
		started: time.Now(),
		opts:    opts,
	}
}

// Start feeds engine snapshots and push status into the stream hub
func (s *Server) Start(ctx context.Context) {
	s.hub.Attach(s.engine)
	go func() {
		<-ctx.Done()
		s.hub.Close()
	}()
}

// Hub returns the monitoring stream hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Routes
	r.Get("/health", s.HealthCheck)
	r.Get("/ws/monitoring", s.HandleMonitoringStream)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// the stream endpoint must not be cut off by a request timeout
		r.Use(chimiddleware.Timeout(30 * time.Second))

		// Scores
		r.Get("/scores", s.GetScores)
		r.Get("/scores/{eventID}", s.GetScore)
		r.Get("/scores/{eventID}/history", s.GetHistory)

		// Subscriptions
		r.Get("/subscriptions", s.GetSubscriptions)
		r.Post("/track", s.Track)
		r.Post("/refresh", s.Refresh)

		// Monitoring
		r.Get("/monitoring", s.GetMonitoring)
		r.Get("/push/status", s.GetPushStatus)
	})

	return r
}

// requestLogger logs one line per request
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
