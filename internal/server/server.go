// Package server is the chat backend: a websocket gateway for rooms, typing
// and presence plus the HTTP endpoints for history and file transfer.
package server

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"erpchat/internal/storage"
)

const (
	DefaultSocketPath     = "/socket"
	DefaultMaxUploadBytes = 25 << 20
)

type Config struct {
	SocketPath     string
	UploadDir      string
	MaxUploadBytes int64
	// AllowedOrigins feeds both CORS and the websocket origin check. Empty or
	// "*" allows any origin.
	AllowedOrigins []string
	// Version is reported by /healthz.
	Version string
	Logger  zerolog.Logger
}

type Server struct {
	cfg      Config
	store    *storage.Store
	hub      *Hub
	presence *Presence
	metrics  *Metrics
	validate *validator.Validate
	upgrader websocket.Upgrader
	log      zerolog.Logger
	now      func() time.Time

	// closing refuses new sockets once Close has started; pumps counts the
	// readPumps still able to touch the store.
	mu      sync.Mutex
	closing bool
	pumps   sync.WaitGroup
}

func New(store *storage.Store, cfg Config) *Server {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if !strings.HasPrefix(cfg.SocketPath, "/") {
		cfg.SocketPath = "/" + cfg.SocketPath
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		hub:      NewHub(),
		presence: NewPresence(),
		metrics:  NewMetrics(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      cfg.Logger.With().Str("component", "server").Logger(),
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.hub.onDrop = func(c *Conn) {
		s.metrics.DroppedConns.Inc()
		s.log.Warn().Uint64("conn", c.id).Msg("dropping slow connection")
	}
	return s
}

// Close hangs up every websocket and returns once their event loops have
// finished, so the store can be closed safely afterwards. The HTTP server
// should be shut down first; Close does not stop plain requests.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.hub.hangUp()
	s.pumps.Wait()
}

// Handler returns the full HTTP surface with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/chats/{id}/messages", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/files/{id}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc(s.cfg.SocketPath, s.serveWS)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newConn(ws)
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.pumps.Add(1)
	s.hub.add(c)
	s.mu.Unlock()
	s.metrics.ActiveConns.Set(float64(s.hub.ConnCount()))
	s.log.Debug().Uint64("conn", c.id).Str("remote", r.RemoteAddr).Msg("socket connected")

	go c.writePump()
	go func() {
		defer s.pumps.Done()
		c.readPump(s)
	}()
}
