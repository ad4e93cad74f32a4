package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"calboard/internal/calendar"
	"calboard/internal/config"
	"calboard/internal/credential"
	appLog "calboard/internal/log"
	"calboard/internal/model"
	"calboard/internal/refresh"
)

// Dashboard is the part of the refresh coordinator the API drives.
type Dashboard interface {
	Snapshot() refresh.Snapshot
	Refresh(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	SetViewMode(ctx context.Context, mode model.ViewMode) error
}

// Server exposes the dashboard state over a JSON API.
type Server struct {
	cfg  *config.Config
	dash Dashboard
	mux  *http.ServeMux
}

// embeddedStatic holds the minimal browser view served at /.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, dash Dashboard) *Server {
	s := &Server{
		cfg:  cfg,
		dash: dash,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password leaves auth disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Calboard", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/grid", s.handleGrid)
	s.mux.HandleFunc("GET /api/credential", s.handleCredential)
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/logout", s.handleLogout)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/view", s.handleView)

	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded files under internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Unknown /api/* paths get a 404, never HTML.
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// eventTimeDTO mirrors model.EventTime.
type eventTimeDTO struct {
	DateTime string `json:"date_time,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"time_zone,omitempty"`
}

type eventDTO struct {
	SourceID    string       `json:"source_id"`
	ID          string       `json:"id"`
	Summary     string       `json:"summary"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Color       string       `json:"color"`
	AllDay      bool         `json:"all_day"`
	Start       eventTimeDTO `json:"start"`
	End         eventTimeDTO `json:"end"`
}

type cellDTO struct {
	Date           string     `json:"date"`
	Weekday        string     `json:"weekday"`
	InAnchorPeriod bool       `json:"in_anchor_period"`
	IsToday        bool       `json:"is_today"`
	Events         []eventDTO `json:"events"`
}

// gridResponse is the JSON response shape for /api/grid.
type gridResponse struct {
	Mode        string     `json:"mode"`
	Today       string     `json:"today"`
	Anchor      string     `json:"anchor,omitempty"`
	Loading     bool       `json:"loading"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Malformed   int        `json:"malformed"`
	// Rows is the number of display rows; Cells holds them in order.
	Rows        int        `json:"rows"`
	Cells       []cellDTO  `json:"cells"`
}

// credentialResponse is the JSON response shape for /api/credential.
type credentialResponse struct {
	Required        bool       `json:"required"`
	State           string     `json:"state"`
	SessionExpired  bool       `json:"session_expired"`
	AttemptRunning  bool       `json:"attempt_running"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	NextAutoAttempt *time.Time `json:"next_auto_attempt,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toEventDTO(e *model.Event) eventDTO {
	return eventDTO{
		SourceID:    e.SourceID,
		ID:          e.ID,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Color:       e.Color.String(),
		AllDay:      e.AllDay(),
		Start:       eventTimeDTO(e.Start),
		End:         eventTimeDTO(e.End),
	}
}

func toCellDTO(c calendar.Cell) cellDTO {
	cell := cellDTO{
		Date:           c.Date.String(),
		Weekday:        c.Date.Weekday().String(),
		InAnchorPeriod: c.InAnchorPeriod,
		IsToday:        c.IsToday,
		Events:         make([]eventDTO, 0, len(c.Events)),
	}
	for _, e := range c.Events {
		cell.Events = append(cell.Events, toEventDTO(e))
	}
	return cell
}

// handleGrid returns the grid of the current view. Cells is empty until the
// first successful fetch.
func (s *Server) handleGrid(w http.ResponseWriter, _ *http.Request) {
	snap := s.dash.Snapshot()
	resp := gridResponse{
		Mode:        string(snap.Mode),
		Today:       snap.Today.String(),
		Loading:     snap.Loading,
		LastRefresh: timePtr(snap.LastRefresh),
		LastError:   snap.LastError,
		Malformed:   snap.Malformed,
		Cells:       []cellDTO{},
	}
	if g := snap.Grid; g != nil {
		resp.Mode = string(g.Mode)
		resp.Anchor = g.Anchor.String()
		rows := g.Weeks()
		resp.Rows = len(rows)
		for _, row := range rows {
			for _, c := range row {
				resp.Cells = append(resp.Cells, toCellDTO(c))
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCredential(w http.ResponseWriter, _ *http.Request) {
	c := s.dash.Snapshot().Credential
	writeJSON(w, http.StatusOK, credentialResponse{
		Required:        c.Required,
		State:           c.State.String(),
		SessionExpired:  c.SessionExpired,
		AttemptRunning:  c.AttemptRunning,
		ExpiresAt:       timePtr(c.ExpiresAt),
		NextAutoAttempt: timePtr(c.NextAutoAttempt),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Login(r.Context()); err != nil {
		appLog.Error("api login failed", err)
		status := http.StatusInternalServerError
		var aerr *credential.AcquisitionError
		if errors.As(err, &aerr) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	s.handleCredential(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.handleCredential(w, r)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Refresh(r.Context()); err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.handleGrid(w, r)
}

// handleView switches the view.
//
// POST /api/view?mode=day|week|month
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	mode, err := model.ParseViewMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.dash.SetViewMode(r.Context(), mode); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.handleGrid(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
