package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/flowcast/internal/live"
	"github.com/soochol/flowcast/internal/ticket"
)

const errWildcardDenied = "wildcard subscription not permitted"

type ticketRequest struct {
	WorkflowID string `json:"workflowId"`
}

type ticketResponse struct {
	Success   bool   `json:"success"`
	Ticket    string `json:"ticket,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
	Error     string `json:"error,omitempty"`
}

// issueTicket hands the caller a single-use ticket for one workflow stream.
func (s *Server) issueTicket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Resolve(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ticketResponse{Error: err.Error()})
		return
	}

	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ticketResponse{Error: "invalid request body"})
		return
	}
	if req.WorkflowID == "" {
		writeJSON(w, http.StatusBadRequest, ticketResponse{Error: "workflowId is required"})
		return
	}
	if req.WorkflowID == live.Wildcard && !s.mayWatchAll(identity) {
		writeJSON(w, http.StatusForbidden, ticketResponse{Error: errWildcardDenied})
		return
	}

	t, err := s.tickets.Issue(r.Context(), identity, req.WorkflowID)
	if errors.Is(err, ticket.ErrInvalidRequest) {
		writeJSON(w, http.StatusBadRequest, ticketResponse{Error: err.Error()})
		return
	}
	if err != nil {
		slog.Error("live: issue ticket", "workflow_id", req.WorkflowID, "err", err)
		writeJSON(w, http.StatusInternalServerError, ticketResponse{Error: "could not issue ticket"})
		return
	}
	s.metrics.TicketIssued()

	writeJSON(w, http.StatusOK, ticketResponse{
		Success:   true,
		Ticket:    t.Token,
		ExpiresIn: int(s.tickets.Expiry().Seconds()),
	})
}

// streamWorkflow authorizes the request and then holds it open as an event
// stream until the client goes away.
func (s *Server) streamWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowId")

	identity, ok := s.authorizeStream(w, r, workflowID)
	if !ok {
		return
	}
	if workflowID == live.Wildcard && !s.mayWatchAll(identity) {
		slog.Warn("live: wildcard stream refused", "identity", identity)
		writeError(w, http.StatusForbidden, errWildcardDenied)
		return
	}

	conn, err := live.NewConn(w, workflowID, identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.hub.Serve(r.Context(), conn); err != nil {
		slog.Debug("live: stream ended", "workflow_id", workflowID, "err", err)
	}
}

// authorizeStream resolves the stream caller from a ticket, or from a bearer
// token in the query string when that fallback is enabled. On failure it
// writes the 401 and reports false.
func (s *Server) authorizeStream(w http.ResponseWriter, r *http.Request, workflowID string) (string, bool) {
	q := r.URL.Query()

	if tok := q.Get("ticket"); tok != "" {
		t, err := s.tickets.Consume(r.Context(), tok, workflowID)
		if err != nil {
			if errors.Is(err, ticket.ErrInvalidTicket) {
				s.metrics.TicketValidated("invalid")
			} else {
				s.metrics.TicketValidated("error")
				slog.Error("live: consume ticket", "workflow_id", workflowID, "err", err)
			}
			writeError(w, http.StatusUnauthorized, ticket.ErrInvalidTicket.Error())
			return "", false
		}
		s.metrics.TicketValidated("ok")
		return t.Identity, true
	}

	if tok := q.Get("token"); tok != "" && s.allowQueryToken {
		slog.Warn("live: deprecated token query parameter used, switch to tickets",
			"workflow_id", workflowID, "remote", r.RemoteAddr)
		w.Header().Set("Deprecation", "true")
		identity, err := s.auth.IdentityFromToken(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return "", false
		}
		return identity, true
	}

	writeError(w, http.StatusUnauthorized, "ticket required")
	return "", false
}

func (s *Server) liveStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}
