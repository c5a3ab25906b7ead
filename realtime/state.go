package realtime

import "fmt"

// State is the push connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Indicator maps a state to the status shown to the user.
func (s State) Indicator() string {
	switch s {
	case StateConnected:
		return "online"
	case StateConnecting:
		return "connecting"
	default:
		return "offline"
	}
}

// UserOrdersTopic is the destination carrying one consumer's order events.
func UserOrdersTopic(userID int64) string {
	return fmt.Sprintf("/topic/user/%d/orders", userID)
}

// MerchantOrdersTopic is the destination carrying one restaurant's order events.
func MerchantOrdersTopic(restaurantID int64) string {
	return fmt.Sprintf("/topic/merchant/%d/orders", restaurantID)
}
