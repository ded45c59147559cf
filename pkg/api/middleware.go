package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Leadership tells whether this node accepts mutations
type Leadership interface {
	IsLeader() bool
	LeaderAddr() string
}

// isReadOnlyMethod reports whether a request cannot change the ledger
func isReadOnlyMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// leaderOnly rejects mutations on nodes that are not the Raft leader before
// any transaction is started. Reads are always served from the local copy.
func leaderOnly(node Leadership, next http.Handler) http.Handler {
	if node == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isReadOnlyMethod(r.Method) && !node.IsLeader() {
			writeJSON(w, http.StatusMisdirectedRequest, ErrorResponse{
				Error:  "mutations are only accepted by the leader",
				Leader: node.LeaderAddr(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs every request at debug level
func logRequests(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
