package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"orderwatch/orders"
	"orderwatch/orderview"
	"orderwatch/realtime"
	"orderwatch/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// --- Connection ---

// connStatus is the indicator payload shared by /api/status and the SSE
// greeting.
type connStatus struct {
	State     realtime.State `json:"state"`
	Indicator string         `json:"indicator"`
	Polling   bool           `json:"polling"`
}

func (h *Handlers) currentStatus() connStatus {
	state := h.deps.Conn.State()
	return connStatus{State: state, Indicator: state.Indicator(), Polling: h.deps.View.Polling()}
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	conn := h.currentStatus()
	topics := h.deps.Conn.Topics()
	if topics == nil {
		topics = []string{}
	}
	resp := map[string]interface{}{
		"state":       conn.State,
		"indicator":   conn.Indicator,
		"polling":     conn.Polling,
		"role":        h.deps.Role,
		"identity":    h.deps.Identity,
		"topics":      topics,
		"visible":     h.deps.View.Visible(),
		"sse_clients": h.eventHub.ClientCount(),
	}
	if h.deps.Relay != nil {
		resp["relay"] = map[string]interface{}{
			"backend":   h.deps.Relay.Backend(),
			"connected": h.deps.Relay.IsConnected(),
		}
	}
	writeJSON(w, resp)
}

func (h *Handlers) apiVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible *bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Visible == nil {
		writeError(w, http.StatusBadRequest, "visible is required")
		return
	}
	h.deps.View.SetVisible(*req.Visible)
	writeJSON(w, map[string]bool{"visible": *req.Visible})
}

// --- Orders ---

type orderRow struct {
	orders.Order
	StatusLabel string `json:"statusLabel"`
}

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	list := h.deps.View.Orders()
	rows := make([]orderRow, len(list))
	for i, o := range list {
		rows[i] = orderRow{Order: o, StatusLabel: orders.Label(o.Status)}
	}
	writeJSON(w, map[string]interface{}{
		"status": h.deps.View.Status(),
		"total":  h.deps.View.Total(),
		"orders": rows,
	})
}

func (h *Handlers) apiSetFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.deps.View.SetFilter(r.Context(), req.Status); err != nil {
		if errors.Is(err, orderview.ErrUnknownStatus) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Warn("set filter", zap.String("status", req.Status), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": h.deps.View.Status()})
}

func (h *Handlers) apiRefreshOrders(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.View.Refetch(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Notifications ---

func (h *Handlers) apiListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Store.ListNotifications(parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, emptyIfNil(list))
}

func (h *Handlers) apiListUnread(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Store.ListUnreadNotifications(parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, emptyIfNil(list))
}

func (h *Handlers) apiUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Store.CountUnreadNotifications()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]int{"count": n})
}

func (h *Handlers) apiGetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Store.GetNotification(chi.URLParam(r, "id"))
	if err != nil {
		h.writeMutation(w, err)
		return
	}
	writeJSON(w, n)
}

func (h *Handlers) apiMarkRead(w http.ResponseWriter, r *http.Request) {
	h.writeMutation(w, h.deps.Store.MarkNotificationRead(chi.URLParam(r, "id")))
}

func (h *Handlers) apiMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Store.MarkAllNotificationsRead()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]int64{"updated": n})
}

func (h *Handlers) apiDeleteNotification(w http.ResponseWriter, r *http.Request) {
	h.writeMutation(w, h.deps.Store.DeleteNotification(chi.URLParam(r, "id")))
}

func (h *Handlers) apiDeleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Store.DeleteAllNotifications()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]int64{"deleted": n})
}

func (h *Handlers) writeMutation(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func emptyIfNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
