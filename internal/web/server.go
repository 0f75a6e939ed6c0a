// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package web serves the device's local HTTP surface: tracking status, the
// last fix, manual test tracking and a live websocket stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/relabs-tech/family_locator/internal/cascade"
	"github.com/relabs-tech/family_locator/internal/location"
	"github.com/relabs-tech/family_locator/internal/positioning"
	"github.com/relabs-tech/family_locator/internal/provider"
)

// Tracker is the part of the mode controller the web surface drives.
type Tracker interface {
	TestTracking() bool
	StopTracking()
	Status() cascade.Status
}

// LocationStatus is the body of GET /api/status.
type LocationStatus struct {
	Tracking         cascade.Status                  `json:"tracking"`
	Providers        map[positioning.ProviderID]bool `json:"providers_enabled"`
	FineGranted      bool                            `json:"fine_location_granted"`
	CoarseGranted    bool                            `json:"coarse_location_granted"`
	NetworkAvailable bool                            `json:"network_available"`
	LastFix          *location.Fix                   `json:"last_fix,omitempty"`
}

type startResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// Server wires the handlers. Metrics may be nil.
type Server struct {
	tracker Tracker
	gate    provider.Gate
	hub     *Hub
	metrics http.Handler
}

func NewServer(tracker Tracker, gate provider.Gate, hub *Hub, metrics http.Handler) *Server {
	return &Server{tracker: tracker, gate: gate, hub: hub, metrics: metrics}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/fix", s.handleFix)
	mux.HandleFunc("POST /api/track/test", s.handleTest)
	mux.HandleFunc("POST /api/track/stop", s.handleStop)
	mux.HandleFunc("GET /ws/fixes", s.hub.ServeWS)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web: server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
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

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := LocationStatus{
		Tracking: s.tracker.Status(),
		Providers: map[positioning.ProviderID]bool{
			positioning.GPS:     s.gate.IsProviderEnabled(positioning.GPS),
			positioning.Network: s.gate.IsProviderEnabled(positioning.Network),
			positioning.Passive: s.gate.IsProviderEnabled(positioning.Passive),
		},
		FineGranted:      s.gate.HasPermission(provider.FineLocation),
		CoarseGranted:    s.gate.HasPermission(provider.CoarseLocation),
		NetworkAvailable: s.gate.NetworkAvailable(),
	}
	if fix, ok := s.hub.LastFix(); ok {
		st.LastFix = &fix
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	fix, ok := s.hub.LastFix()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if !s.tracker.TestTracking() {
		writeJSON(w, http.StatusConflict, startResponse{Message: "tracking already active"})
		return
	}
	log.Printf("web: test tracking started")
	writeJSON(w, http.StatusAccepted, startResponse{Started: true, Message: "test tracking started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.tracker.StopTracking()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}
