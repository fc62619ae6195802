package httpapi

import "net/http"

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if err := s.deps.Broker.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "broker unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker != nil {
		if err := s.deps.Broker.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "broker unreachable")
			return
		}
	}
	if s.deps.Pinger != nil {
		if err := s.deps.Pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
