package server

import (
	"net/http"
	"sort"

	"github.com/dmforge/dmforge/internal/engine"
)

// handleLocations lists the places the player knows about: visited locations
// plus discovered secrets.
func (srv *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	type locationInfo struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Visits  int    `json:"visits"`
		Current bool   `json:"current"`
	}
	var known []locationInfo
	for id, loc := range s.Scenario.Locations {
		if !s.World.HasVisited(id) && !s.World.Discovered(id) {
			continue
		}
		known = append(known, locationInfo{
			ID:      id,
			Name:    loc.Name,
			Visits:  s.World.VisitCount(id),
			Current: id == s.World.CurrentID(),
		})
	}
	sort.Slice(known, func(i, j int) bool { return known[i].ID < known[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"current":   s.World.CurrentID(),
		"locations": known,
		"exits":     s.World.GetExits(),
	})
}

func (srv *Server) handleTravel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Direction string `json:"direction"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	s, ok := srv.session(w, r, req.SessionID)
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	if s.InCombat() {
		writeError(w, http.StatusBadRequest, "travel_in_combat", "cannot travel during combat")
		return
	}

	res, err := s.World.Move(req.Direction, s, s.Roller)
	if err != nil {
		srv.fail(w, err)
		return
	}
	out, err := engine.ApplyMove(s, res)
	if err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()

	resp := map[string]any{
		"result":     out.Result,
		"narrations": out.Narrations,
		"state":      engine.BuildState(s, true),
	}
	if out.Combat != nil {
		resp["combat"] = out.Combat
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLocationScan runs the discovery checks for the current location and
// reveals what the character notices.
func (srv *Server) handleLocationScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	s, ok := srv.session(w, r, req.SessionID)
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	discoveries := s.World.CheckDiscovery(s)
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"discoveries": discoveries,
		"exits":       s.World.GetExits(),
	})
}
