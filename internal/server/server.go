// Package server is the HTTP surface: JSON endpoints for game commands and
// an SSE stream for narrated turns. Handlers translate between the wire and
// the engine; game rules live below this layer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/choice"
	"github.com/dmforge/dmforge/internal/combat"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
	"github.com/dmforge/dmforge/internal/engine"
	"github.com/dmforge/dmforge/internal/npc"
	"github.com/dmforge/dmforge/internal/observe"
	"github.com/dmforge/dmforge/internal/party"
	"github.com/dmforge/dmforge/internal/quest"
	"github.com/dmforge/dmforge/internal/savegame"
	"github.com/dmforge/dmforge/internal/session"
	"github.com/dmforge/dmforge/internal/shop"
	"github.com/dmforge/dmforge/internal/world"
)

// sessionHeader is the alternative to a session_id body field.
const sessionHeader = "X-Session-ID"

// maxBodyBytes bounds request bodies. Player actions are capped again,
// tighter, inside the engine.
const maxBodyBytes = 64 << 10

// Options wires a Server.
type Options struct {
	Sessions *session.Manager
	Engine   *engine.Engine
	Catalog  *content.Catalog
	Saves    *savegame.Store
	Metrics  *observe.Metrics
	Logger   *slog.Logger

	// TurnTimeout bounds one action turn, streaming included.
	TurnTimeout time.Duration

	// Seed forces a fixed RNG seed on new sessions; zero draws random seeds.
	Seed int64
}

// Server holds the handler dependencies.
type Server struct {
	sessions    *session.Manager
	engine      *engine.Engine
	catalog     *content.Catalog
	saves       *savegame.Store
	metrics     *observe.Metrics
	logger      *slog.Logger
	turnTimeout time.Duration
	seed        int64
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.TurnTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Server{
		sessions:    opts.Sessions,
		engine:      opts.Engine,
		catalog:     opts.Catalog,
		saves:       opts.Saves,
		metrics:     opts.Metrics,
		logger:      logger,
		turnTimeout: timeout,
		seed:        opts.Seed,
	}
}

// Handler builds the routed handler, metrics middleware included.
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("GET /api/sessions/stats", srv.handleSessionStats)

	mux.HandleFunc("POST /api/game/start", srv.handleGameStart)
	mux.HandleFunc("POST /api/game/action", srv.handleAction)
	mux.HandleFunc("POST /api/game/action/stream", srv.handleActionStream)
	mux.HandleFunc("POST /api/game/end", srv.handleGameEnd)
	mux.HandleFunc("GET /api/game/state", srv.handleGameState)
	mux.HandleFunc("POST /api/game/roll", srv.handleRoll)
	mux.HandleFunc("POST /api/game/save", srv.handleSave)
	mux.HandleFunc("POST /api/game/load", srv.handleLoad)
	mux.HandleFunc("GET /api/game/saves", srv.handleSaveList)
	mux.HandleFunc("GET /api/game/character", srv.handleCharacter)

	mux.HandleFunc("POST /api/character/levelup", srv.handleLevelUp)
	mux.HandleFunc("POST /api/character/rest", srv.handleRest)

	mux.HandleFunc("GET /api/classes", srv.handleClasses)
	mux.HandleFunc("GET /api/races", srv.handleRaces)
	mux.HandleFunc("GET /api/scenarios", srv.handleScenarios)

	mux.HandleFunc("GET /api/combat/status", srv.handleCombatStatus)
	mux.HandleFunc("POST /api/combat/attack", srv.handleCombatAttack)
	mux.HandleFunc("POST /api/combat/defend", srv.handleCombatDefend)
	mux.HandleFunc("POST /api/combat/flee", srv.handleCombatFlee)

	mux.HandleFunc("POST /api/inventory/use", srv.handleInventoryUse)
	mux.HandleFunc("POST /api/inventory/equip", srv.handleInventoryEquip)

	mux.HandleFunc("GET /api/shop/browse", srv.handleShopBrowse)
	mux.HandleFunc("POST /api/shop/buy", srv.handleShopBuy)
	mux.HandleFunc("POST /api/shop/sell", srv.handleShopSell)
	mux.HandleFunc("POST /api/shop/haggle", srv.handleShopHaggle)

	mux.HandleFunc("GET /api/party/view", srv.handlePartyView)
	mux.HandleFunc("POST /api/party/recruit", srv.handlePartyRecruit)
	mux.HandleFunc("POST /api/party/dismiss", srv.handlePartyDismiss)

	mux.HandleFunc("GET /api/quests/list", srv.handleQuestList)
	mux.HandleFunc("POST /api/quests/accept", srv.handleQuestAccept)
	mux.HandleFunc("POST /api/quests/complete", srv.handleQuestComplete)

	mux.HandleFunc("GET /api/locations", srv.handleLocations)
	mux.HandleFunc("POST /api/travel", srv.handleTravel)
	mux.HandleFunc("POST /api/location/scan", srv.handleLocationScan)

	mux.HandleFunc("GET /api/reputation", srv.handleReputation)
	mux.HandleFunc("GET /api/reputation/{npc_id}", srv.handleReputationNPC)

	mux.HandleFunc("GET /api/choices/available", srv.handleChoicesAvailable)
	mux.HandleFunc("POST /api/choices/select", srv.handleChoiceSelect)
	mux.HandleFunc("GET /api/choices/history", srv.handleChoiceHistory)
	mux.HandleFunc("GET /api/choices/ending", srv.handleChoiceEnding)

	mux.HandleFunc("GET /healthz", srv.handleLiveness)
	mux.HandleFunc("GET /readyz", srv.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	if srv.metrics != nil {
		return observe.Middleware(srv.metrics)(mux)
	}
	return mux
}

// ── request plumbing ──

// decode unmarshals a JSON body into dst. An empty body is fine: endpoints
// that only need the session header carry no body at all.
func decode(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// sessionID resolves the session reference: header first, then the body
// field, then the query string.
func sessionID(r *http.Request, bodyID string) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	if bodyID != "" {
		return bodyID
	}
	return r.URL.Query().Get("session_id")
}

// session looks up the referenced session, answering the request itself when
// the reference is missing or dead.
func (srv *Server) session(w http.ResponseWriter, r *http.Request, bodyID string) (*session.Session, bool) {
	s, err := srv.sessions.Get(sessionID(r, bodyID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session", "Invalid session")
		return nil, false
	}
	return s, true
}

// ── response plumbing ──

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// fail maps a domain error onto an HTTP error response.
func (srv *Server) fail(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= 500 {
		srv.logger.Error("request failed", "code", code, "error", err)
	}
	writeError(w, status, code, err.Error())
}

// errorStatus classifies every sentinel the subsystems can return. Unknown
// errors are a 500.
func errorStatus(err error) (int, string) {
	var condFail *world.ConditionFailedError
	if errors.As(err, &condFail) {
		return http.StatusBadRequest, "exit_blocked"
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusBadRequest, "invalid_session"
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusServiceUnavailable, "too_many_sessions"

	case errors.Is(err, engine.ErrEmptyAction):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, engine.ErrLLM):
		return http.StatusBadGateway, "llm_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, "llm_timeout"

	case errors.Is(err, character.ErrInvalidName),
		errors.Is(err, character.ErrUnknownClass),
		errors.Is(err, character.ErrUnknownRace):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, character.ErrInsufficientXP):
		return http.StatusBadRequest, "insufficient_xp"
	case errors.Is(err, character.ErrMaxLevel):
		return http.StatusBadRequest, "max_level"
	case errors.Is(err, character.ErrCannotRestInCombat):
		return http.StatusBadRequest, "cannot_rest_in_combat"
	case errors.Is(err, character.ErrFullHP):
		return http.StatusBadRequest, "full_hp"
	case errors.Is(err, character.ErrNoHitDice):
		return http.StatusBadRequest, "no_hit_dice"
	case errors.Is(err, character.ErrItemNotFound):
		return http.StatusBadRequest, "item_not_found"
	case errors.Is(err, character.ErrCannotEquip):
		return http.StatusBadRequest, "cannot_equip"
	case errors.Is(err, character.ErrCannotUse):
		return http.StatusBadRequest, "cannot_use"

	case errors.Is(err, shop.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, shop.ErrHostileMerchant):
		return http.StatusBadRequest, "hostile_merchant"
	case errors.Is(err, shop.ErrInsufficientGold):
		return http.StatusBadRequest, "insufficient_gold"
	case errors.Is(err, shop.ErrItemNotFound):
		return http.StatusBadRequest, "item_not_found"
	case errors.Is(err, shop.ErrNotOwned):
		return http.StatusBadRequest, "item_not_owned"
	case errors.Is(err, shop.ErrAlreadyHaggled):
		return http.StatusBadRequest, "already_haggled"

	case errors.Is(err, npc.ErrUnknownNPC):
		return http.StatusNotFound, "unknown_npc"
	case errors.Is(err, npc.ErrNotMerchant):
		return http.StatusBadRequest, "not_a_merchant"
	case errors.Is(err, npc.ErrInsufficientStock):
		return http.StatusBadRequest, "insufficient_stock"

	case errors.Is(err, world.ErrNoSuchExit):
		return http.StatusBadRequest, "no_such_exit"
	case errors.Is(err, world.ErrUnknownLocation):
		return http.StatusNotFound, "unknown_location"

	case errors.Is(err, quest.ErrQuestNotFound):
		return http.StatusNotFound, "quest_not_found"
	case errors.Is(err, quest.ErrPrerequisitesUnmet):
		return http.StatusBadRequest, "prerequisites_unmet"
	case errors.Is(err, quest.ErrAlreadyActive):
		return http.StatusBadRequest, "quest_already_active"
	case errors.Is(err, quest.ErrNotActive):
		return http.StatusBadRequest, "quest_not_active"
	case errors.Is(err, quest.ErrObjectivesIncomplete):
		return http.StatusBadRequest, "objectives_incomplete"

	case errors.Is(err, party.ErrPartyFull):
		return http.StatusBadRequest, "party_full"
	case errors.Is(err, party.ErrNotRecruitable):
		return http.StatusBadRequest, "cannot_recruit"
	case errors.Is(err, party.ErrAlreadyRecruited):
		return http.StatusBadRequest, "already_recruited"
	case errors.Is(err, party.ErrConditionsUnmet):
		return http.StatusBadRequest, "conditions_unmet"
	case errors.Is(err, party.ErrNotInParty):
		return http.StatusBadRequest, "not_in_party"

	case errors.Is(err, choice.ErrUnknownChoice):
		return http.StatusNotFound, "unknown_choice"
	case errors.Is(err, choice.ErrUnknownOption):
		return http.StatusNotFound, "unknown_option"
	case errors.Is(err, choice.ErrUnavailable):
		return http.StatusBadRequest, "choice_unavailable"
	case errors.Is(err, choice.ErrAlreadyMade):
		return http.StatusBadRequest, "choice_already_made"
	case errors.Is(err, choice.ErrRequirementUnmet):
		return http.StatusBadRequest, "requirement_unmet"

	case errors.Is(err, combat.ErrNotPlayerTurn):
		return http.StatusBadRequest, "not_player_turn"
	case errors.Is(err, combat.ErrCombatOver):
		return http.StatusBadRequest, "combat_over"
	case errors.Is(err, combat.ErrNoSuchTarget):
		return http.StatusBadRequest, "no_such_target"
	case errors.Is(err, combat.ErrUnknownEnemyType):
		return http.StatusBadRequest, "unknown_enemy"

	case errors.Is(err, savegame.ErrNotFound):
		return http.StatusNotFound, "save_not_found"
	case errors.Is(err, savegame.ErrBadVersion):
		return http.StatusBadRequest, "bad_save_version"
	case errors.Is(err, savegame.ErrScenarioMismatch):
		return http.StatusBadRequest, "scenario_mismatch"

	case errors.Is(err, dice.ErrInvalidNotation):
		return http.StatusBadRequest, "invalid_notation"
	}
	return http.StatusInternalServerError, "internal_error"
}

// ── health ──

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": srv.sessions.Count(),
	})
}

func (srv *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": srv.sessions.Count(),
		"max_sessions":    session.MaxSessions,
	})
}

func (srv *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadiness reports readiness: the scenario catalog must hold content.
func (srv *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if srv.catalog == nil || len(srv.catalog.IDs()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no content"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
