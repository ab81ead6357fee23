package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/engine"
	"github.com/dmforge/dmforge/internal/savegame"
)

// ── lifecycle ──

type startRequest struct {
	ScenarioID string `json:"scenario_id"`
	Name       string `json:"name"`
	Class      string `json:"class"`
	Race       string `json:"race"`
	Seed       int64  `json:"seed"`
}

func (srv *Server) handleGameStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	scen := srv.catalog.Default()
	if req.ScenarioID != "" {
		scen = srv.catalog.Get(req.ScenarioID)
	}
	if scen == nil {
		writeError(w, http.StatusNotFound, "unknown_scenario", "unknown scenario "+req.ScenarioID)
		return
	}

	seed := req.Seed
	if seed == 0 {
		seed = srv.seed
	}
	s, err := srv.sessions.Create(scen, req.Name, req.Class, req.Race, seed)
	if err != nil {
		srv.fail(w, err)
		return
	}

	s.Lock()
	defer s.Unlock()

	// Main quests without prerequisites start active; side quests wait for
	// an explicit accept.
	for _, q := range scen.Quests {
		if q.Type == content.QuestMain && len(q.Prerequisites) == 0 {
			_ = s.Quests.Accept(q.ID)
		}
	}

	if srv.metrics != nil {
		srv.metrics.ActiveSessions.Add(r.Context(), 1)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.ID,
		"scenario":   scen.ID,
		"narration":  scen.OpeningNarration,
		"state":      engine.BuildState(s, true),
	})
}

func (srv *Server) handleGameEnd(w http.ResponseWriter, r *http.Request) {
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
	if err := srv.sessions.End(s.ID); err != nil {
		srv.fail(w, err)
		return
	}
	if srv.metrics != nil {
		srv.metrics.ActiveSessions.Add(r.Context(), -1)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ended": true})
}

// ── turns ──

type actionRequest struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
}

// handleAction runs one turn and returns everything at once: the buffered
// narration, the non-prose events, and the final state.
func (srv *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	s, ok := srv.session(w, r, req.SessionID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), srv.turnTimeout)
	defer cancel()

	sink := &collectorSink{}
	start := time.Now()
	err := srv.engine.Action(ctx, s, req.Action, sink)
	srv.recordTurn(ctx, start, err)
	if err != nil {
		srv.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"narration": sink.narration.String(),
		"events":    sink.events,
		"state":     sink.state,
	})
}

// handleActionStream runs one turn over SSE. Failures before the first event
// become a plain JSON error; later failures arrive in-band as error events.
func (srv *Server) handleActionStream(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	s, ok := srv.session(w, r, req.SessionID)
	if !ok {
		return
	}

	sink, err := newSSESink(w, srv.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), srv.turnTimeout)
	defer cancel()

	start := time.Now()
	err = srv.engine.Action(ctx, s, req.Action, sink)
	srv.recordTurn(ctx, start, err)
	if err != nil && !sink.Started() {
		srv.fail(w, err)
	}
}

func (srv *Server) recordTurn(ctx context.Context, start time.Time, err error) {
	if srv.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	srv.metrics.RecordTurn(ctx, status)
	srv.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
}

// ── state and dice ──

func (srv *Server) handleGameState(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()
	writeJSON(w, http.StatusOK, engine.BuildState(s, true))
}

func (srv *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Notation  string `json:"notation"`
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
	res, err := s.Roller.Roll(req.Notation)
	if err != nil {
		srv.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (srv *Server) handleCharacter(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"character": s.Char})
}

// ── persistence ──

func (srv *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID   string `json:"session_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
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

	slot, err := srv.saves.Save(req.Name, req.Description, s)
	if err != nil {
		srv.fail(w, err)
		return
	}
	// A mid-combat save is legal but drops the fight; the client gets told.
	writeJSON(w, http.StatusOK, map[string]any{
		"slot":            slot,
		"saved_in_combat": s.InCombat(),
	})
}

func (srv *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Name      string `json:"name"`
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

	if err := srv.saves.Load(req.Name, s); err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"slot":  savegame.SanitizeName(req.Name),
		"state": engine.BuildState(s, true),
	})
}

func (srv *Server) handleSaveList(w http.ResponseWriter, r *http.Request) {
	saves, err := srv.saves.List()
	if err != nil {
		srv.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saves": saves})
}

// ── character progression ──

func (srv *Server) handleLevelUp(w http.ResponseWriter, r *http.Request) {
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

	res, err := s.Char.LevelUp()
	if err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"result": res,
		"state":  engine.BuildState(s, true),
	})
}

func (srv *Server) handleRest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		RestType  string `json:"rest_type"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.RestType != "" && req.RestType != "short" {
		writeError(w, http.StatusBadRequest, "invalid_input", "unsupported rest type "+req.RestType)
		return
	}
	s, ok := srv.session(w, r, req.SessionID)
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	healed, err := s.Char.ShortRest(s.Roller, s.InCombat())
	if err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"healed":             healed,
		"current_hp":         s.Char.CurrentHP,
		"max_hp":             s.Char.MaxHP,
		"hit_dice_remaining": s.Char.HitDiceRemaining,
	})
}

// ── static content ──

func (srv *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	type classInfo struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		Description    string `json:"description"`
		HitDie         int    `json:"hit_die"`
		PrimaryAbility string `json:"primary_ability"`
		StartingGold   int    `json:"starting_gold"`
	}
	ids := make([]string, 0, len(character.Classes))
	for id := range character.Classes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]classInfo, 0, len(ids))
	for _, id := range ids {
		def := character.Classes[id]
		out = append(out, classInfo{
			ID:             id,
			Name:           def.Name,
			Description:    def.Description,
			HitDie:         def.HitDie,
			PrimaryAbility: def.PrimaryAbility,
			StartingGold:   def.StartingGold,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"classes": out})
}

func (srv *Server) handleRaces(w http.ResponseWriter, r *http.Request) {
	type raceInfo struct {
		ID          string              `json:"id"`
		Name        string              `json:"name"`
		Description string              `json:"description"`
		Bonuses     character.Abilities `json:"bonuses"`
	}
	ids := make([]string, 0, len(character.Races))
	for id := range character.Races {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]raceInfo, 0, len(ids))
	for _, id := range ids {
		def := character.Races[id]
		out = append(out, raceInfo{ID: id, Name: def.Name, Description: def.Description, Bonuses: def.Bonuses})
	}
	writeJSON(w, http.StatusOK, map[string]any{"races": out})
}

func (srv *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	type scenarioInfo struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	var out []scenarioInfo
	for _, scen := range srv.catalog.List() {
		out = append(out, scenarioInfo{ID: scen.ID, Name: scen.Name, Description: scen.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": out})
}
