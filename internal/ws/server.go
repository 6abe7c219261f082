package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"os/exec"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/printdeck/server/internal/bus"
	"github.com/printdeck/server/internal/config"
	"github.com/printdeck/server/internal/machine"
	"github.com/printdeck/server/internal/push"
	"github.com/printdeck/server/internal/timelapse"
)

// Server exposes the push socket and the small REST API around it.
type Server struct {
	cfg       *config.Config
	bus       *bus.Bus
	registry  *push.Registry
	producers push.Producers
	recorder  *timelapse.Recorder
	status    *machine.StatusTracker

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cfg *config.Config, b *bus.Bus, registry *push.Registry, producers push.Producers, recorder *timelapse.Recorder, status *machine.StatusTracker) *Server {
	s := &Server{
		cfg:            cfg,
		bus:            b,
		registry:       registry,
		producers:      producers,
		recorder:       recorder,
		status:         status,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/sock", s.handleSock)
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/timelapse", s.handleTimelapseGet)
		r.Put("/timelapse", s.handleTimelapsePut)
		r.Post("/commands/{name}", s.handleCommand)
	})

	return r
}

func (s *Server) handleSock(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	sess := push.NewSession(conn, s.bus, s.producers)
	s.registry.Add(sess)
	sess.Open(push.ConnectionInfo{RemoteAddr: r.RemoteAddr, Header: r.Header})

	go func() {
		defer func() {
			s.registry.Remove(sess)
			sess.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			sess.HandleIncoming(data)
		}
	}()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status.Snapshot())
}

func (s *Server) handleTimelapseGet(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.recorder.Current())
}

func (s *Server) handleTimelapsePut(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var cfg timelapse.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid timelapse config", http.StatusBadRequest)
		return
	}
	switch cfg.Type {
	case "off", "timed", "zchange":
	default:
		http.Error(w, "unknown timelapse type", http.StatusBadRequest)
		return
	}

	s.recorder.SetConfig(cfg)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.recorder.Current())
}

// handleCommand runs a configured feedback command and pushes its combined
// output to every connected client.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	name := chi.URLParam(r, "name")
	command, ok := s.cfg.Commands[name]
	if !ok {
		http.Error(w, "unknown command", http.StatusNotFound)
		return
	}

	out, err := exec.Command("/bin/sh", "-c", command).CombinedOutput()
	if err != nil {
		log.Printf("ws: command %q failed: %v", name, err)
	}

	output := string(out)
	s.registry.Each(func(sess *push.Session) {
		sess.SendFeedbackCommandOutput(name, output)
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Printdeck-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
