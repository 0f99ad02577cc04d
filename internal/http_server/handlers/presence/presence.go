package presence

import (
	"net/http"
	"sort"

	"chat_service/internal/chat"
	resp "chat_service/internal/lib/api/response"

	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Online []string `json:"online"`
	Count  int      `json:"count"`
}

// New reports the display names currently connected to the broadcast
// domain.
func New(registry *chat.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := registry.Snapshot()

		online := make([]string, 0, len(snapshot))
		for _, name := range snapshot {
			online = append(online, name)
		}
		sort.Strings(online)

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Online:   online,
			Count:    len(online),
		})
	}
}
