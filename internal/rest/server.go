package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"bizlink/messaging-service/internal/auth"
	"bizlink/messaging-service/internal/models"
	"bizlink/messaging-service/internal/repository"
	"bizlink/messaging-service/internal/service"
)

type contextKey struct{ name string }

var accountContextKey = &contextKey{"account"}

// Server exposes the pull side of the messaging subsystem: conversation
// listing, history pagination, read acknowledgment, and unread totals for
// clients that are not currently connected over the websocket.
type Server struct {
	svc      service.MessagingService
	verifier *auth.Verifier
	logger   *logrus.Logger
}

func NewServer(svc service.MessagingService, verifier *auth.Verifier, logger *logrus.Logger) *Server {
	return &Server{
		svc:      svc,
		verifier: verifier,
		logger:   logger,
	}
}

// Register mounts the REST routes under /api on the given router.
func (s *Server) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/conversations", s.listConversations).Methods("GET")
	api.HandleFunc("/conversations", s.startConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}/messages", s.history).Methods("GET")
	api.HandleFunc("/conversations/{id}", s.getConversation).Methods("GET")
	api.HandleFunc("/conversations/{id}/read", s.markConversationRead).Methods("PUT")
	api.HandleFunc("/conversations/{id}", s.deleteConversation).Methods("DELETE")
	api.HandleFunc("/messages/unread-count", s.unreadCount).Methods("GET")
	api.HandleFunc("/messages/{id}/read", s.markMessageRead).Methods("PUT")
	api.HandleFunc("/messages/{id}", s.deleteMessage).Methods("DELETE")
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := s.verifier.Authenticate(r.Context(), auth.TokenFromRequest(r))
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFrom(r *http.Request) *models.Account {
	account, _ := r.Context().Value(accountContextKey).(*models.Account)
	return account
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)

	conversations, err := s.svc.ListConversations(r.Context(), account.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if conversations == nil {
		conversations = []*models.Conversation{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

type startConversationRequest struct {
	BusinessID string `json:"businessId"`
}

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)

	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BusinessID == "" {
		s.writeError(w, http.StatusBadRequest, "businessId is required")
		return
	}

	conv, err := s.svc.StartConversation(r.Context(), account.ID, req.BusinessID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"conversation": conv})
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)
	conversationID := mux.Vars(r)["id"]

	conv, err := s.svc.GetConversation(r.Context(), conversationID, account.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"conversation": conv})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)
	conversationID := mux.Vars(r)["id"]

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	messages, err := s.svc.History(r.Context(), conversationID, account.ID, page, pageSize)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) markConversationRead(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)
	conversationID := mux.Vars(r)["id"]

	count, err := s.svc.MarkConversationRead(r.Context(), conversationID, account.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"markedCount": count})
}

func (s *Server) markMessageRead(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)
	messageID := mux.Vars(r)["id"]

	msg, err := s.svc.MarkMessageRead(r.Context(), messageID, account.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"message": msg})
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)

	total, err := s.svc.UnreadTotal(r.Context(), account.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"unreadCount": total})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)
	messageID := mux.Vars(r)["id"]

	if _, err := s.svc.DeleteMessage(r.Context(), messageID, account.ID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)
	conversationID := mux.Vars(r)["id"]

	if err := s.svc.DeleteConversation(r.Context(), conversationID, account.ID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotParticipant), errors.Is(err, service.ErrNotReceiver):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, repository.ErrConversationNotFound),
		errors.Is(err, repository.ErrMessageNotFound),
		errors.Is(err, repository.ErrBusinessNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrMissingRecipient),
		errors.Is(err, service.ErrContentTooLong),
		errors.Is(err, service.ErrBadAttachment),
		errors.Is(err, service.ErrSelfMessage):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithError(err).Error("Request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
