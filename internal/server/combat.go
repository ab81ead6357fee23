package server

import (
	"net/http"

	"github.com/dmforge/dmforge/internal/combat"
	"github.com/dmforge/dmforge/internal/engine"
	"github.com/dmforge/dmforge/internal/session"
)

func (srv *Server) handleCombatStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	if !s.InCombat() {
		writeJSON(w, http.StatusOK, map[string]any{"in_combat": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"in_combat":        true,
		"round":            s.Combat.Round,
		"enemies":          s.Combat.Enemies,
		"turn_order":       s.Combat.TurnOrder(),
		"player_defending": s.Combat.PlayerDefending,
		"surprise":         s.Combat.Surprise,
	})
}

type combatRequest struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target"`
}

func (srv *Server) handleCombatAttack(w http.ResponseWriter, r *http.Request) {
	srv.combatAction(w, r, func(s *session.Session, req combatRequest) ([]combat.Event, error) {
		return s.Combat.PlayerAttack(req.Target)
	})
}

func (srv *Server) handleCombatDefend(w http.ResponseWriter, r *http.Request) {
	srv.combatAction(w, r, func(s *session.Session, _ combatRequest) ([]combat.Event, error) {
		return s.Combat.PlayerDefend()
	})
}

func (srv *Server) handleCombatFlee(w http.ResponseWriter, r *http.Request) {
	srv.combatAction(w, r, func(s *session.Session, _ combatRequest) ([]combat.Event, error) {
		return s.Combat.PlayerFlee()
	})
}

// combatAction is the shared frame of the three combat verbs: resolve the
// session, demand a running fight, run the action, settle a finished combat,
// and report events, outcome, and state.
func (srv *Server) combatAction(w http.ResponseWriter, r *http.Request, run func(*session.Session, combatRequest) ([]combat.Event, error)) {
	var req combatRequest
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

	if !s.InCombat() {
		writeError(w, http.StatusBadRequest, "not_in_combat", "no combat is running")
		return
	}

	events, err := run(s, req)
	if err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()

	outcome, victory := engine.ApplyCombatEnd(s)
	resp := map[string]any{
		"events":  events,
		"outcome": outcome,
		"state":   engine.BuildState(s, true),
	}
	if victory != nil {
		resp["victory"] = victory
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── inventory ──

type itemRequest struct {
	SessionID string `json:"session_id"`
	ItemID    string `json:"item_id"`
}

func (srv *Server) handleInventoryUse(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
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

	item := s.Scenario.Item(req.ItemID)
	if item == nil {
		writeError(w, http.StatusNotFound, "item_not_found", "unknown item "+req.ItemID)
		return
	}
	res, err := s.Char.UseItem(item, s.Roller)
	if err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":    req.ItemID,
		"effect":     res.Effect,
		"healed":     res.Healed,
		"current_hp": s.Char.CurrentHP,
		"max_hp":     s.Char.MaxHP,
		"inventory":  s.Char.Inventory,
	})
}

func (srv *Server) handleInventoryEquip(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
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

	item := s.Scenario.Item(req.ItemID)
	if item == nil {
		writeError(w, http.StatusNotFound, "item_not_found", "unknown item "+req.ItemID)
		return
	}
	if err := s.Char.Equip(item); err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":     req.ItemID,
		"weapon_id":   s.Char.WeaponID,
		"armor_id":    s.Char.ArmorID,
		"armor_class": s.Char.ArmorClass,
	})
}
