package server

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/api"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/api/dashboard"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/config"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/db"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/gateway"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/humastar"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/service"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/session"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/templates"
)

//go:embed dashboard.html
var dashboardPage string

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // Path to web/ directory for static files and templates

	// ConfigPath is the domain YAML file. Empty uses the built-in defaults.
	ConfigPath string
	// BackendURL, MapURL and MaxSessions override the domain file when set.
	BackendURL  string
	MapURL      string
	MaxSessions int

	Logger *slog.Logger
}

// Domain loads the domain configuration and applies the overrides.
func (c Config) Domain() (config.Config, error) {
	domain, err := config.Load(c.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if c.BackendURL != "" {
		domain.Backend.BaseURL = c.BackendURL
	}
	if c.MapURL != "" {
		domain.MapService.BaseURL = c.MapURL
	}
	if c.MaxSessions > 0 {
		domain.Sessions.MaxSessions = c.MaxSessions
	}
	return domain, nil
}

// Server is the DSS HTTP server.
type Server struct {
	config   Config
	domain   config.Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	renderer *templates.Renderer
	bus      *service.EventBus
	page     *template.Template
	logger   *slog.Logger
}

// New creates a new DSS server.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	domain, err := cfg.Domain()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	var links *humastar.LinkSet
	humaConfig := huma.DefaultConfig("DSS API", api.Version)
	humaConfig.Info.Description = "Water-resource decision support API: cascading area selection, derived map layer filters and editable monitoring datasets."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, func(ctx huma.Context, status string, v any) (any, error) {
		return links.Transformer()(ctx, status, v)
	})

	humaAPI := humago.New(mux, humaConfig)

	bus := service.NewEventBus()
	layers := service.NewLayerService(cfg.DataDir, bus, logger)

	// DuckDB is optional: without it saves go to the backend only.
	var archive *db.Archive
	conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "dss"})
	if err != nil {
		logger.Warn("duckdb unavailable", "error", err)
		conn = nil
	} else if archive, err = db.NewArchive(context.Background(), conn); err != nil {
		logger.Warn("dataset archive unavailable", "error", err)
		archive = nil
	}

	registry, err := session.NewRegistry(domain.Sessions.MaxSessions, logger)
	if err != nil {
		return nil, err
	}

	deps := session.Deps{
		Config:  domain,
		Backend: gateway.NewBackend(domain.Backend, logger),
		Maps:    gateway.NewMapService(domain.MapService, logger),
		Catalog: layers,
		Bus:     bus,
		Logger:  logger,
	}
	if archive != nil {
		deps.Archive = archive
	}

	renderer, err := newRenderer(cfg.WebDir, logger)
	if err != nil {
		return nil, err
	}

	page, err := loadPage(cfg.WebDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		domain:  domain,
		mux:     mux,
		humaAPI: humaAPI,
		db:      conn,
		services: &api.Services{
			Config:   domain,
			Sessions: registry,
			Deps:     deps,
			Layers:   layers,
			Archive:  archive,
			DB:       conn,
			DataDir:  cfg.DataDir,
			Logger:   logger,
		},
		renderer: renderer,
		bus:      bus,
		page:     page,
		logger:   logger,
	}

	s.routes()
	links = humastar.AutoLinks(humaAPI)
	return s, nil
}

// newRenderer prefers fragment templates on disk so they can be edited
// without a rebuild.
func newRenderer(webDir string, logger *slog.Logger) (*templates.Renderer, error) {
	if webDir != "" {
		fragmentsDir := filepath.Join(webDir, "templates", "fragments")
		if _, err := os.Stat(fragmentsDir); err == nil {
			r, err := templates.NewFromDir(fragmentsDir)
			if err != nil {
				return nil, err
			}
			logger.Info("loaded fragment templates", "dir", fragmentsDir)
			return r, nil
		}
	}
	return templates.New()
}

func loadPage(webDir string) (*template.Template, error) {
	src := dashboardPage
	if webDir != "" {
		if data, err := os.ReadFile(filepath.Join(webDir, "templates", "dashboard.html")); err == nil {
			src = string(data)
		}
	}
	return template.New("dashboard").Parse(src)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Domain returns the resolved domain configuration.
func (s *Server) Domain() config.Config {
	return s.domain
}

// Close closes every session and the database.
func (s *Server) Close() error {
	s.services.Sessions.Close()
	if s.db == nil {
		return nil
	}
	return db.Close()
}

func (s *Server) routes() {
	// Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)

	// Dashboard SSE routes using Huma + Datastar SDK
	dashboard.New(s.services.Sessions, s.bus, s.renderer, s.logger).RegisterRoutes(s.humaAPI)

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	// Page routes
	s.mux.HandleFunc("GET /dashboard", s.handleNewDashboard)
	s.mux.HandleFunc("GET /dashboard/{session}", s.handleDashboard)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "dss",
		"status":  "running",
	})
}

// handleNewDashboard opens a session and redirects to its page.
func (s *Server) handleNewDashboard(w http.ResponseWriter, r *http.Request) {
	sess := session.New(s.services.Deps)
	if err := sess.Open(r.Context()); err != nil {
		sess.Close()
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, "Failed to open session: "+err.Error(), status)
		return
	}
	s.services.Sessions.Add(sess)
	http.Redirect(w, r, "/dashboard/"+sess.ID(), http.StatusSeeOther)
}

// PageData is the data of the dashboard page template.
type PageData struct {
	Session     string
	Base        string
	Hierarchies []string
	Datasets    []string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.services.Sessions.Get(r.PathValue("session"))
	if !ok || sess.Closed() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.page.Execute(w, PageData{
		Session:     sess.ID(),
		Base:        "/api/v1/dashboard/" + sess.ID(),
		Hierarchies: sess.Hierarchies(),
		Datasets:    sess.Datasets(),
	})
	if err != nil {
		s.logger.Error("render dashboard", "session", sess.ID(), "error", err)
	}
}
