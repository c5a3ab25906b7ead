package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Version is the relay envelope format version.
const Version = 1

// TypeNotification is the envelope type of a relayed notification.
const TypeNotification = "notification"

// Envelope wraps every relayed message.
type Envelope struct {
	Version   int             `json:"v"`
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Src       string          `json:"src"`
	Timestamp time.Time       `json:"ts"`
	ExpiresAt time.Time       `json:"exp"`
	Payload   json.RawMessage `json:"p"`
}

// NewEnvelope creates an outbound envelope. A non-positive ttl never expires.
func NewEnvelope(msgType, src string, ttl time.Duration, payload any) (*Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	env := &Envelope{
		Version:   Version,
		Type:      msgType,
		ID:        uuid.New().String(),
		Src:       src,
		Timestamp: now,
		Payload:   p,
	}
	if ttl > 0 {
		env.ExpiresAt = now.Add(ttl)
	}
	return env, nil
}

// Encode marshals the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// IsExpired reads only the exp field of an encoded envelope. Payloads
// without a usable exp never expire.
func IsExpired(data []byte, now time.Time) bool {
	exp := gjson.GetBytes(data, "exp")
	if !exp.Exists() {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, exp.String())
	if err != nil || t.IsZero() {
		return false
	}
	return now.After(t)
}
