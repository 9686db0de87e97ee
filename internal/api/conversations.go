package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/conversation"
	"github.com/exemi-au/exemi/internal/users"
)

// streamWriteTimeout is the write deadline granted after every chunk.
const streamWriteTimeout = 120 * time.Second

type messageRequest struct {
	MessageText string `json:"message_text"`
}

func (s *Server) readMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return "", false
	}
	return req.MessageText, true
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request, u *users.User, cred canvas.Credential) {
	text, ok := s.readMessage(w, r)
	if !ok {
		return
	}
	c, err := s.deps.Conversations.Start(r.Context(), u, cred, text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleContinueConversation(w http.ResponseWriter, r *http.Request, u *users.User, cred canvas.Credential) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	text, ok := s.readMessage(w, r)
	if !ok {
		return
	}
	c, err := s.deps.Conversations.Continue(r.Context(), id, u, cred, text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, u *users.User) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.deps.Conversations.Get(r.Context(), id, u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, u *users.User) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Conversations.Delete(r.Context(), id, u); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"detail": "Conversation deleted"})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request, u *users.User) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.deps.Conversations.Transcript(r.Context(), id, u, s.deps.Location)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		s.logger.Debug("transcript write failed", "error", err)
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, u *users.User) {
	offset, limit, err := page(r, conversation.MaxPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.deps.Conversations.List(r.Context(), u, mux.Vars(r)["username"], offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request, u *users.User, cred canvas.Credential) {
	text, ok := s.readMessage(w, r)
	if !ok {
		return
	}
	c, ch, err := s.deps.Conversations.StartStream(r.Context(), u, cred, text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Conversation-ID", strconv.FormatInt(c.ID, 10))
	s.stream(w, r, c.ID, ch)
}

func (s *Server) handleContinueStream(w http.ResponseWriter, r *http.Request, u *users.User, cred canvas.Credential) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	text, ok := s.readMessage(w, r)
	if !ok {
		return
	}
	ch, err := s.deps.Conversations.ContinueStream(r.Context(), id, u, cred, text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Conversation-ID", strconv.FormatInt(id, 10))
	s.stream(w, r, id, ch)
}

// stream copies chunks to the client, flushing each one. The channel is
// always drained so the turn is handed to the background runner before
// the handler returns.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, id int64, ch <-chan string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	var writeErr error
	for chunk := range ch {
		if writeErr != nil {
			continue
		}
		if _, writeErr = io.WriteString(w, chunk); writeErr != nil {
			s.logger.Warn("stream write failed",
				"conversation_id", id,
				"request_id", RequestID(r.Context()),
				"error", writeErr,
			)
			continue
		}
		if err := rc.Flush(); err != nil {
			s.logger.Debug("stream flush failed", "error", err)
		}
		if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request, u *users.User, cred canvas.Credential) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	text, ok := s.readMessage(w, r)
	if !ok {
		return
	}
	c, err := s.deps.Conversations.EditMessage(r.Context(), id, u, cred, text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request, u *users.User) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.deps.Conversations.DeleteMessage(r.Context(), id, u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}
