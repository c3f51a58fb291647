// Package api exposes the HTTP control surface of the acquisition
// controller: status and event queries, run control, grid editing and the
// grid map export.
package api

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/microvolume/stackacq/internal/acq"
	"github.com/microvolume/stackacq/internal/config"
	"github.com/microvolume/stackacq/internal/grid"
	"github.com/microvolume/stackacq/internal/httputil"
	"github.com/microvolume/stackacq/internal/monitor"
	"github.com/microvolume/stackacq/internal/version"
)

// Server handles the HTTP interface for controlling and observing a stack
// acquisition.
type Server struct {
	address  string
	server   *http.Server
	ctrl     *acq.Controller
	cfg      *config.SessionConfig
	grids    *grid.Manager
	recorder *monitor.Recorder
	charts   *monitor.Charts
	logger   *log.Logger
}

// ServerConfig contains configuration options for the control server.
type ServerConfig struct {
	Address    string
	Controller *acq.Controller
	Session    *config.SessionConfig
	Grids      *grid.Manager
	Recorder   *monitor.Recorder
	Charts     *monitor.Charts
	Logger     *log.Logger
}

// NewServer creates a control server with the provided configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		address:  cfg.Address,
		ctrl:     cfg.Controller,
		cfg:      cfg.Session,
		grids:    cfg.Grids,
		recorder: cfg.Recorder,
		charts:   cfg.Charts,
		logger:   logger,
	}
	s.server = &http.Server{
		Addr:    s.address,
		Handler: s.setupRoutes(),
	}
	return s
}

// Start begins the HTTP server in a goroutine and blocks until the context
// is cancelled, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Printf("[API] listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatalf("[API] failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	s.logger.Printf("[API] shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("[API] shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			s.logger.Printf("[API] force close error: %v", err)
		}
	}
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/acq/status", s.handleStatus)
	mux.HandleFunc("/api/acq/events", s.handleEvents)
	mux.HandleFunc("/api/acq/config", s.handleConfig)
	mux.HandleFunc("/api/acq/start", s.handleStart)
	mux.HandleFunc("/api/acq/pause", s.handlePause)
	mux.HandleFunc("/api/acq/stop", s.handleStop)
	mux.HandleFunc("/api/acq/reset", s.handleReset)
	mux.HandleFunc("/api/grids", s.handleGrids)
	mux.HandleFunc("/api/grids/toggle", s.handleToggleTile)
	mux.HandleFunc("/api/gridmap", s.handleGridMap)

	if s.charts != nil {
		s.charts.Register(mux)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"git_sha": version.GitSHA,
	})
}

// StatusResponse is the payload of /api/acq/status.
type StatusResponse struct {
	Status       acq.Status       `json:"status"`
	RunID        string           `json:"run_id,omitempty"`
	SliceCounter int              `json:"slice_counter"`
	TotalZDiffUm float64          `json:"total_z_diff_um"`
	StageZUm     float64          `json:"stage_z_um"`
	ErrorState   int              `json:"error_state"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Paused       bool             `json:"paused"`
	PauseReason  string           `json:"pause_reason,omitempty"`
	Interrupted  bool             `json:"interrupted"`
	Progress     monitor.Progress `json:"progress"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.ctrl.StateSnapshot()
	resp := StatusResponse{
		Status:       s.ctrl.Status(),
		RunID:        snap.RunID,
		SliceCounter: snap.SliceCounter,
		TotalZDiffUm: snap.TotalZDiffUm,
		StageZUm:     snap.StageZUm,
		ErrorState:   snap.ErrorState,
		Paused:       snap.Paused,
		PauseReason:  snap.PauseReason,
		Interrupted:  snap.Interrupted,
	}
	if snap.ErrorState != 0 {
		resp.ErrorMessage = acq.ErrorMessage(snap.ErrorState)
	}
	if s.recorder != nil {
		resp.Progress, _ = s.recorder.Snapshot()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.recorder == nil {
		httputil.NotFound(w, "no event recorder configured")
		return
	}
	_, events := s.recorder.Snapshot()
	httputil.WriteJSONOK(w, events)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.ctrl.Running() {
		httputil.WriteJSONError(w, http.StatusConflict, "acquisition already running")
		return
	}
	go func() {
		if err := s.ctrl.Run(context.Background()); err != nil {
			s.logger.Printf("[API] run ended with error: %v", err)
		}
	}()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.ctrl.Running() {
		if snap := s.ctrl.StateSnapshot(); snap.ErrorState != 0 {
			httputil.WriteJSONErrorState(w, http.StatusConflict, snap.ErrorState,
				"acquisition not running: "+acq.ErrorMessage(snap.ErrorState))
			return
		}
		httputil.WriteJSONError(w, http.StatusConflict, "acquisition not running")
		return
	}
	severity := acq.PauseAfterImage
	if r.URL.Query().Get("severity") == "slice" {
		severity = acq.PauseAfterSlice
	}
	s.ctrl.RequestPause(severity)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "pause requested"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	// Blocks until the worker reaches a safe boundary.
	s.ctrl.Stop()
	httputil.WriteJSONOK(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.ctrl.ResetStack(); err != nil {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "reset"})
}

// GridSummary is one grid in the /api/grids listing.
type GridSummary struct {
	Index       int     `json:"index"`
	Rows        int     `json:"rows"`
	Cols        int     `json:"cols"`
	ActiveTiles []int   `json:"active_tiles"`
	PixelSizeNm float64 `json:"pixel_size_nm"`
	AcqInterval int     `json:"acq_interval"`
	Adaptive    bool    `json:"adaptive_focus"`
}

func (s *Server) handleGrids(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snapshot := s.grids.Snapshot()
	out := make([]GridSummary, 0, len(snapshot))
	for i, g := range snapshot {
		out = append(out, GridSummary{
			Index:       i,
			Rows:        g.Rows,
			Cols:        g.Cols,
			ActiveTiles: g.ActiveTiles,
			PixelSizeNm: g.PixelSizeNm,
			AcqInterval: g.AcqInterval,
			Adaptive:    g.AdaptiveFocus,
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleToggleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.ctrl.Running() {
		httputil.WriteJSONError(w, http.StatusConflict, "cannot edit grids while acquisition is running")
		return
	}
	gridIdx, ok := queryInt(r, "grid")
	if !ok {
		httputil.BadRequest(w, "missing or invalid 'grid' parameter")
		return
	}
	tile, ok := queryInt(r, "tile")
	if !ok {
		httputil.BadRequest(w, "missing or invalid 'tile' parameter")
		return
	}
	active, err := s.grids.ToggleTile(gridIdx, tile)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"grid": gridIdx, "tile": tile, "active": active,
	})
}

func (s *Server) handleGridMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var buf bytes.Buffer
	if err := s.grids.WriteGridMaps(&buf); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func queryInt(r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
