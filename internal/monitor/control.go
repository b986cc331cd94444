// internal/monitor/control.go
package monitor

import (
	"context"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/YaganovValera/market-feed/pkg/httpserver"
)

// StatusFunc reports the feed state for GET /control/status.
type StatusFunc func(ctx context.Context) (any, error)

type signalRequest struct {
	Visible *bool `json:"visible"`
	Online  *bool `json:"online"`
}

type signalResponse struct {
	Visible bool `json:"visible"`
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

// Routes mounts the control endpoints:
//
//	POST /control/visibility  {"visible": bool} or ?visible=bool
//	POST /control/network     {"online": bool} or ?online=bool
//	POST /control/reconnect
//	GET  /control/status
func Routes(m *Monitor, status StatusFunc) []httpserver.Route {
	return []httpserver.Route{
		{Method: http.MethodPost, Pattern: "/control/visibility", Handler: signalHandler(m, "visible", func(r signalRequest) *bool { return r.Visible }, m.SetVisible)},
		{Method: http.MethodPost, Pattern: "/control/network", Handler: signalHandler(m, "online", func(r signalRequest) *bool { return r.Online }, m.SetOnline)},
		{Method: http.MethodPost, Pattern: "/control/reconnect", Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			m.Reconnect()
			w.WriteHeader(http.StatusAccepted)
		})},
		{Method: http.MethodGet, Pattern: "/control/status", Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if status == nil {
				http.Error(w, "status unavailable", http.StatusNotFound)
				return
			}
			st, err := status(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, st)
		})},
	}
}

func signalHandler(m *Monitor, param string, pick func(signalRequest) *bool, set func(bool) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v *bool
		if q := r.URL.Query().Get(param); q != "" {
			b, err := strconv.ParseBool(q)
			if err != nil {
				http.Error(w, "bad "+param+" value", http.StatusBadRequest)
				return
			}
			v = &b
		} else {
			var req signalRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid JSON body", http.StatusBadRequest)
				return
			}
			v = pick(req)
		}
		if v == nil {
			http.Error(w, "missing "+param, http.StatusBadRequest)
			return
		}
		changed := set(*v)
		visible, online := m.Snapshot()
		writeJSON(w, http.StatusOK, signalResponse{Visible: visible, Online: online, Changed: changed})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
