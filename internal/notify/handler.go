package notify

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/jredh-dev/nexus-relay/internal/apperr"
)

const maxEventBytes = 1 << 20

// Handler serves the notifier endpoint.
type Handler struct {
	fwd *Forwarder
}

func NewHandler(fwd *Forwarder) *Handler {
	return &Handler{fwd: fwd}
}

// ServeHTTP parses the event, forwards it and answers with the webhook's
// body. Missing fields get 400 and nothing is sent.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	ev, err := Parse(r.Header.Get("Content-Type"), body)
	if err == nil {
		err = ev.Validate()
	}
	if err != nil {
		http.Error(w, MissingParameters, http.StatusBadRequest)
		return
	}

	reply, err := h.fwd.Forward(r.Context(), ev)
	if err != nil {
		log.Printf("notifier: forward failed: %v", err)
		status := http.StatusBadGateway
		if errors.Is(err, apperr.Validation) {
			status = http.StatusBadRequest
		}
		http.Error(w, "Failed to reach webhook", status)
		return
	}
	if !reply.OK() {
		log.Printf("notifier: webhook answered %d", reply.Status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(reply.Body)
}
