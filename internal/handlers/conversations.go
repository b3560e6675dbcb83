package handlers

import (
	"net/http"

	"github.com/eldtechnologies/supportbot/internal/models"
)

// Conversations lists every conversation with its messages, oldest first.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	convs, err := h.store.ListConversations(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("error listing conversations")
		h.Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	views := make([]models.ConversationView, 0, len(convs))
	for _, c := range convs {
		messages, err := h.store.GetMessages(ctx, c.ConversationID)
		if err != nil {
			h.logger.Error().Err(err).Str("conversation_id", c.ConversationID).Msg("error loading messages")
			h.Error(w, http.StatusInternalServerError, "failed to load messages")
			return
		}
		views = append(views, models.NewConversationView(c, messages))
	}

	h.JSON(w, http.StatusOK, map[string]any{"conversations": views})
}
