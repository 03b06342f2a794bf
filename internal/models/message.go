package models

import "time"

// InboundMessage is a single SMS lifted from a modem's own message store.
// It lives only long enough to be forwarded upstream; the modem copy is
// deleted by local id as soon as the message has been read.
type InboundMessage struct {
	DevicePort string    `json:"device_port"`
	LocalID    string    `json:"local_id"`
	SIMStatus  string    `json:"sim_status"`
	Sender     string    `json:"sender"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}
