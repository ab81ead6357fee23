package server

import (
	"errors"
	"net/http"
	"sort"

	"github.com/dmforge/dmforge/internal/engine"
	"github.com/dmforge/dmforge/internal/npc"
	"github.com/dmforge/dmforge/internal/party"
	"github.com/dmforge/dmforge/internal/quest"
	"github.com/dmforge/dmforge/internal/session"
)

// ── shop ──

// handleShopBrowse lists a merchant's stock with prices computed for the
// current disposition and haggle state.
func (srv *Server) handleShopBrowse(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	merchantID := r.URL.Query().Get("merchant_id")

	s.Lock()
	defer s.Unlock()

	if !srv.merchantHere(w, s, merchantID) {
		return
	}
	stock, err := s.NPCs.Stock(merchantID)
	if err != nil {
		srv.fail(w, err)
		return
	}

	type listing struct {
		ItemID   string `json:"item_id"`
		Name     string `json:"name"`
		Quantity int    `json:"quantity"` // negative means unlimited
		Price    int    `json:"price"`
	}
	items := make([]listing, 0, len(stock))
	for itemID, qty := range stock {
		item := s.Scenario.Item(itemID)
		if item == nil || qty == 0 {
			continue
		}
		price, err := s.Shop.BuyPrice(merchantID, item)
		if err != nil {
			srv.fail(w, err)
			return
		}
		items = append(items, listing{ItemID: itemID, Name: item.Name, Quantity: qty, Price: price})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })

	writeJSON(w, http.StatusOK, map[string]any{
		"merchant_id": merchantID,
		"disposition": s.NPCs.Disposition(merchantID),
		"items":       items,
		"gold":        s.Char.Gold,
	})
}

type tradeRequest struct {
	SessionID  string `json:"session_id"`
	MerchantID string `json:"merchant_id"`
	ItemID     string `json:"item_id"`
	Quantity   int    `json:"quantity"`
}

func (srv *Server) handleShopBuy(w http.ResponseWriter, r *http.Request) {
	srv.trade(w, r, func(s *session.Session, req tradeRequest) (any, error) {
		return s.Shop.Buy(req.MerchantID, req.ItemID, req.Quantity, s.Char)
	})
}

func (srv *Server) handleShopSell(w http.ResponseWriter, r *http.Request) {
	srv.trade(w, r, func(s *session.Session, req tradeRequest) (any, error) {
		return s.Shop.Sell(req.MerchantID, req.ItemID, req.Quantity, s.Char)
	})
}

func (srv *Server) trade(w http.ResponseWriter, r *http.Request, run func(*session.Session, tradeRequest) (any, error)) {
	var req tradeRequest
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

	if !srv.merchantHere(w, s, req.MerchantID) {
		return
	}
	tx, err := run(s, req)
	if err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": tx,
		"disposition": s.NPCs.Disposition(req.MerchantID),
	})
}

func (srv *Server) handleShopHaggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string `json:"session_id"`
		MerchantID string `json:"merchant_id"`
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

	if !srv.merchantHere(w, s, req.MerchantID) {
		return
	}
	res, err := s.Shop.Haggle(req.MerchantID, s.Char, s.Roller)
	if err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, res)
}

// merchantHere demands that the merchant stands at the current location.
// Callers hold the session lock.
func (srv *Server) merchantHere(w http.ResponseWriter, s *session.Session, merchantID string) bool {
	if merchantID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "merchant_id is required")
		return false
	}
	if s.Scenario.NPC(merchantID) == nil {
		writeError(w, http.StatusNotFound, "unknown_npc", "unknown npc "+merchantID)
		return false
	}
	if !s.NPCs.IsPresent(merchantID, s.World.CurrentID()) {
		writeError(w, http.StatusBadRequest, "merchant_not_here", merchantID+" is not at this location")
		return false
	}
	return true
}

// ── party ──

func (srv *Server) handlePartyView(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"members": s.Party.Members(),
		"size":    s.Party.Size(),
		"cap":     party.MaxCompanions,
	})
}

func (srv *Server) handlePartyRecruit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		NPCID     string `json:"npc_id"`
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

	if s.Scenario.NPC(req.NPCID) == nil {
		writeError(w, http.StatusNotFound, "unknown_npc", "unknown npc "+req.NPCID)
		return
	}
	if !s.NPCs.IsPresent(req.NPCID, s.World.CurrentID()) {
		writeError(w, http.StatusBadRequest, "npc_not_here", req.NPCID+" is not at this location")
		return
	}

	res, err := s.Party.Recruit(req.NPCID, s)
	if err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"member": res.Member,
		"state":  engine.BuildState(s, true),
	})
}

func (srv *Server) handlePartyDismiss(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		MemberID  string `json:"member_id"`
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

	if err := s.Party.Dismiss(req.MemberID); err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"dismissed": req.MemberID,
		"members":   s.Party.Members(),
	})
}

// ── quests ──

func (srv *Server) handleQuestList(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	type questView struct {
		ID          string       `json:"id"`
		Name        string       `json:"name"`
		Type        string       `json:"type"`
		Status      quest.Status `json:"status"`
		Objectives  any          `json:"objectives"`
		Description string       `json:"description,omitempty"`
	}
	var out []questView
	for _, entry := range s.Quests.List() {
		out = append(out, questView{
			ID:          entry.Quest.ID,
			Name:        entry.Quest.Name,
			Type:        string(entry.Quest.Type),
			Status:      entry.State.Status,
			Objectives:  entry.State.Objectives,
			Description: entry.Quest.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"quests": out})
}

func (srv *Server) handleQuestAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		QuestID   string `json:"quest_id"`
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

	if err := s.Quests.Accept(req.QuestID); err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"quest_id": req.QuestID,
		"status":   s.Quests.Status(req.QuestID),
	})
}

func (srv *Server) handleQuestComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		QuestID   string `json:"quest_id"`
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

	res, err := completeQuest(s, req.QuestID)
	if err != nil {
		srv.fail(w, err)
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"quest_id": req.QuestID,
		"rewards":  res.Rewards,
		"state":    engine.BuildState(s, true),
	})
}

// completeQuest finishes a quest and routes its rewards: gold, XP, and items
// to the character, the disposition bump to the quest giver. Callers hold the
// session lock.
func completeQuest(s *session.Session, questID string) (*quest.CompletionResult, error) {
	res, err := s.Quests.Complete(questID)
	if err != nil {
		return nil, err
	}
	s.Char.AddGold(res.Rewards.Gold)
	if res.Rewards.XP > 0 {
		s.Char.GainXP(res.Rewards.XP)
	}
	for _, itemID := range res.Rewards.Items {
		if item := s.Scenario.Item(itemID); item != nil {
			s.Char.AddItem(item, 1)
		}
	}
	if giver := res.Quest.GiverNPC; giver != "" {
		s.NPCs.ModifyDisposition(giver, npc.QuestDelta(res.Quest.Type))
	}
	return res, nil
}

// ── reputation ──

type reputationView struct {
	NPCID       string `json:"npc_id"`
	Name        string `json:"name"`
	Disposition int    `json:"disposition"`
	Tier        string `json:"tier"`
}

func (srv *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	out := make([]reputationView, 0, len(s.Scenario.NPCs))
	for id, n := range s.Scenario.NPCs {
		out = append(out, reputationView{
			NPCID:       id,
			Name:        n.Name,
			Disposition: s.NPCs.Disposition(id),
			Tier:        string(s.NPCs.Tier(id)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NPCID < out[j].NPCID })
	writeJSON(w, http.StatusOK, map[string]any{"reputation": out})
}

func (srv *Server) handleReputationNPC(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	npcID := r.PathValue("npc_id")

	s.Lock()
	defer s.Unlock()

	n := s.Scenario.NPC(npcID)
	if n == nil {
		writeError(w, http.StatusNotFound, "unknown_npc", "unknown npc "+npcID)
		return
	}
	writeJSON(w, http.StatusOK, reputationView{
		NPCID:       npcID,
		Name:        n.Name,
		Disposition: s.NPCs.Disposition(npcID),
		Tier:        string(s.NPCs.Tier(npcID)),
	})
}

// ── choices ──

func (srv *Server) handleChoicesAvailable(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	type optionView struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		Requires string `json:"requires,omitempty"`
	}
	type choiceView struct {
		ID      string       `json:"id"`
		Prompt  string       `json:"prompt"`
		Options []optionView `json:"options"`
	}
	var out []choiceView
	for _, c := range s.Choices.Available(s.World.CurrentID()) {
		cv := choiceView{ID: c.ID, Prompt: c.Prompt}
		for _, opt := range c.Options {
			cv.Options = append(cv.Options, optionView{ID: opt.ID, Text: opt.Text, Requires: opt.Requires})
		}
		out = append(out, cv)
	}
	writeJSON(w, http.StatusOK, map[string]any{"choices": out})
}

func (srv *Server) handleChoiceSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		ChoiceID  string `json:"choice_id"`
		OptionID  string `json:"option_id"`
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

	outcome, err := s.Choices.Select(req.ChoiceID, req.OptionID, s.World.CurrentID(), s)
	if err != nil {
		srv.fail(w, err)
		return
	}

	// Route the consequences the choice manager leaves to the caller.
	for npcID, delta := range outcome.DispositionDeltas {
		s.NPCs.ModifyDisposition(npcID, delta)
	}
	if outcome.CompleteQuest != "" {
		if _, err := completeQuest(s, outcome.CompleteQuest); err != nil && !errors.Is(err, quest.ErrObjectivesIncomplete) {
			srv.logger.Warn("choice quest completion failed",
				"choice", req.ChoiceID, "quest", outcome.CompleteQuest, "error", err)
		}
	}
	if outcome.FailQuest != "" {
		if err := s.Quests.Fail(outcome.FailQuest); err != nil {
			srv.logger.Warn("choice quest fail failed",
				"choice", req.ChoiceID, "quest", outcome.FailQuest, "error", err)
		}
	}
	s.Touch()

	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": outcome,
		"state":   engine.BuildState(s, true),
	})
}

func (srv *Server) handleChoiceHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"history":   s.Choices.History(),
		"alignment": s.Choices.Alignment(),
		"trend":     s.Choices.Trend(),
	})
}

func (srv *Server) handleChoiceEnding(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.session(w, r, "")
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	ending := s.Choices.PredictEnding()
	resp := map[string]any{"alignment": s.Choices.Alignment()}
	if ending != nil {
		resp["ending"] = ending
	}
	writeJSON(w, http.StatusOK, resp)
}
