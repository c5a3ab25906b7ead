package orders

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned for push payloads that cannot be decoded.
var ErrMalformed = errors.New("malformed order status message")

// DecodeStatusEvent decodes one push payload. Transitions must carry an
// orderId; NEW_ORDER messages may omit it.
func DecodeStatusEvent(body []byte) (StatusEvent, error) {
	var ev StatusEvent
	if !gjson.ValidBytes(body) {
		return ev, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return ev, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	if res.Get("type").String() != TypeNewOrder {
		id := res.Get("orderId")
		if !id.Exists() || id.Int() == 0 {
			return ev, fmt.Errorf("%w: missing orderId", ErrMalformed)
		}
		if res.Get("newStatus").String() == "" {
			return ev, fmt.Errorf("%w: missing newStatus", ErrMalformed)
		}
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}
