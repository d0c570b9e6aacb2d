package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	n, err := s.Tracker.UnreadCount(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]int{"unread": n})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	conv, err := s.Tracker.MarkRead(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, conv)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.Tracker.History(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, msgs)
}

type postMessageRequest struct {
	Body string `json:"body"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, faults.Wrap(faults.Validation, "malformed request body", err))
		return
	}
	m, err := s.Tracker.Post(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()), req.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusCreated, m)
}

// handleChatWS upgrades to a live chat socket. The route sits outside the
// auth middleware so the token can arrive as a query parameter.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var id models.Identity
	var err error
	if token := r.URL.Query().Get("token"); token != "" {
		id, err = s.Ids.FromToken(token)
	} else {
		id, err = s.Ids.FromBearer(r.Header.Get("Authorization"))
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	// membership in the conversation is checked before the upgrade
	if _, err := s.Tracker.UnreadCount(r.Context(), conversationID, id); err != nil {
		writeErr(w, err)
		return
	}

	// Upgrade replies to the client itself on failure
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "conversation_id", conversationID, "error", err)
		return
	}
	s.Registry.Add(conversationID, id.AccountID, conn)
	defer func() {
		s.Registry.Remove(conversationID, id.AccountID)
		_ = conn.Close()
	}()

	for {
		var req postMessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if _, err := s.Tracker.Post(r.Context(), conversationID, id, req.Body); err != nil {
			_ = conn.WriteJSON(envelope{OK: false, Error: &errPayload{
				Code:   string(faults.KindOf(err)),
				Reason: faults.Reason(err),
			}})
		}
	}
}
