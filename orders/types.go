package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses
const (
	StatusPending    = "PENDING"
	StatusPaid       = "PAID"
	StatusConfirmed  = "CONFIRMED"
	StatusPreparing  = "PREPARING"
	StatusDelivering = "DELIVERING"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
)

// Push message types
const (
	TypeNewOrder = "NEW_ORDER"
	// TypeStatusUpdate is what the poll path synthesizes. The backend sends
	// TypeOrderStatusUpdate; both are treated as a status transition.
	TypeStatusUpdate      = "STATUS_UPDATE"
	TypeOrderStatusUpdate = "ORDER_STATUS_UPDATE"
)

var statusLabels = map[string]string{
	StatusPending:    "待支付",
	StatusPaid:       "已支付",
	StatusConfirmed:  "已确认",
	StatusPreparing:  "制作中",
	StatusDelivering: "配送中",
	StatusCompleted:  "已完成",
	StatusCancelled:  "已取消",
}

// Label returns the display label for a status code. Unknown codes are
// returned unchanged.
func Label(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return status
}

// IsKnown reports whether status is one of the seven order statuses.
func IsKnown(status string) bool {
	_, ok := statusLabels[status]
	return ok
}

// Order is one row of an order list as returned by the REST API.
// Only ID and Status are inspected by the reconciliation path.
type Order struct {
	ID             int64           `json:"id"`
	OrderNo        string          `json:"orderNo"`
	UserID         int64           `json:"userId"`
	RestaurantID   int64           `json:"restaurantId"`
	RestaurantName string          `json:"restaurantName"`
	Status         string          `json:"status"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee"`
	PayAmount      decimal.Decimal `json:"payAmount"`
	Address        string          `json:"address,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Remark         string          `json:"remark,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty"`
	UpdatedAt      string          `json:"updatedAt,omitempty"`
}

// StatusEvent is one order-status push message, or its poll-path equivalent.
type StatusEvent struct {
	Type           string          `json:"type"`
	OrderID        int64           `json:"orderId"`
	OrderNo        string          `json:"orderNo"`
	UserID         int64           `json:"userId"`
	RestaurantID   int64           `json:"restaurantId"`
	RestaurantName string          `json:"restaurantName"`
	OldStatus      string          `json:"oldStatus"`
	NewStatus      string          `json:"newStatus"`
	StatusLabel    string          `json:"statusLabel"`
	PayAmount      decimal.Decimal `json:"payAmount"`
	UpdatedAt      string          `json:"updatedAt"`
	Message        string          `json:"message"`
}

// IsNewOrder reports whether the event announces a brand-new order rather
// than a transition of a known one.
func (e StatusEvent) IsNewOrder() bool {
	return e.Type == TypeNewOrder
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a zone offset.
// Zoneless values are read as local time.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
