package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/creativeprojects/imapwatch/lib"
	"github.com/creativeprojects/imapwatch/store"
	"github.com/gorilla/mux"
)

const defaultHistoryLimit = 50

// Receiver is the part of the watcher the control surface talks to.
type Receiver interface {
	Running() bool
	Mailbox() string
	SwitchMailbox(name string) error
}

// HistorySource lists recorded lifecycle events, newest first.
type HistorySource interface {
	Events(limit int) ([]store.Event, error)
}

// Server exposes the status of the watch loop, the mailbox-switch action and
// the event journal over HTTP.
type Server struct {
	receiver Receiver
	history  HistorySource
	log      lib.Logger
}

func NewServer(receiver Receiver, history HistorySource, log lib.Logger) *Server {
	if log == nil {
		log = &lib.NoLog{}
	}
	return &Server{
		receiver: receiver,
		history:  history,
		log:      log,
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", s.status).Methods(http.MethodGet)
	router.HandleFunc("/change-mailbox", s.changeMailbox).Methods(http.MethodGet)
	router.HandleFunc("/history", s.listHistory).Methods(http.MethodGet)
	return router
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	message := "Receiver not running."
	if s.receiver.Running() {
		message = "Receiver running."
	}
	s.sendMessage(w, http.StatusOK, message)
}

func (s *Server) changeMailbox(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("mailbox")
	err := s.receiver.SwitchMailbox(name)
	if err != nil {
		s.log.Printf("mailbox switch to %q refused: %s", name, err)
		s.sendError(w, err)
		return
	}
	s.sendMessage(w, http.StatusOK, "OK")
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, errors.New("no history store configured"))
		return
	}
	events, err := s.history.Events(defaultHistoryLimit)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"mailbox": s.receiver.Mailbox(),
		"events":  events,
	})
}

func (s *Server) sendMessage(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"message": message})
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, lib.ErrInvalidMailbox) {
		status = http.StatusUnprocessableEntity
	}
	s.sendJSON(w, status, map[string]string{"detail": err.Error()})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Printf("cannot send response: %s", err)
	}
}
