package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
)

// envelope is the uniform response document. Callers read the ok
// discriminant rather than inferring success from the HTTP status.
type envelope struct {
	OK    bool        `json:"ok"`
	Data  any         `json:"data,omitempty"`
	Error *errPayload `json:"error,omitempty"`
}

type errPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func writeOK(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{OK: true, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(faults.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(envelope{OK: false, Error: &errPayload{
		Code:   string(faults.KindOf(err)),
		Reason: faults.Reason(err),
	}})
}
