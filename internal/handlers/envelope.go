package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/toolforge/deployctl/internal/apperrors"
)

// envelope is spec.md §6's response shape: { data, messages: { info,
// warning, error } }.
type envelope struct {
	Data     any      `json:"data"`
	Messages messages `json:"messages"`
}

type messages struct {
	Info    []string `json:"info"`
	Warning []string `json:"warning"`
	Error   []string `json:"error"`
}

const betaNotice = "You are using a beta feature of Toolforge."

func newMessages() messages {
	return messages{Info: []string{}, Warning: []string{}, Error: []string{}}
}

func writeJSON(w http.ResponseWriter, status int, data any, warnings, infos []string) {
	msgs := newMessages()
	msgs.Warning = append(msgs.Warning, warnings...)
	msgs.Info = append(msgs.Info, infos...)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data, Messages: msgs})
}

// writeOK writes a 200 with no extra messages.
func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data, nil, nil)
}

// writeMutationOK writes a 200 with the mandatory beta-notice warning plus
// any caller-supplied warnings (spec.md §6: "every successful mutating
// response includes at least the beta-notice warning").
func writeMutationOK(w http.ResponseWriter, data any, extraWarnings ...string) {
	writeJSON(w, http.StatusOK, data, append([]string{betaNotice}, extraWarnings...), nil)
}

// writeError maps err to its HTTP status via apperrors.StatusCode (spec.md
// §4.6: "map NotFoundInStorage->404; ... any other exception->500 (with
// str(e) in message)"). A *apperrors.ValidationError carries every offending
// message (and component name, per spec.md §4.1 point 4); all of them go
// into messages.error, not just the first.
func writeError(w http.ResponseWriter, err error) {
	status := apperrors.StatusCode(err)
	msgs := newMessages()
	var validationErr *apperrors.ValidationError
	if errors.As(err, &validationErr) && len(validationErr.Messages) > 0 {
		msgs.Error = append(msgs.Error, validationErr.Messages...)
	} else {
		msgs.Error = append(msgs.Error, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: nil, Messages: msgs})
}
