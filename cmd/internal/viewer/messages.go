package viewer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	v1 "thoughtstream/shared/contracts/viewer/v1"
)

const maxMessagesLimit = 1000

// MessagesHandler serves GET /messages?limit=N with the newest-first log.
func MessagesHandler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		if limit == 0 || limit > maxMessagesLimit {
			limit = maxMessagesLimit
		}

		msgs := src.Messages()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(v1.SnapshotPayload{
			Messages: ToPayloads(msgs, limit),
			Total:    len(msgs),
		})
	})
}
