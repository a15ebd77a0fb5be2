package events

import "time"

// Event enumerates high-level topics inside the market.
type Event string

const (
	EventInstrumentAdded   Event = "instrument.added"
	EventPriceUpdated      Event = "price.updated"
	EventUserRegistered    Event = "user.registered"
	EventOperationExecuted Event = "operation.executed"
)

// Message is what subscribers receive: the topic, its payload and when it was published.
type Message struct {
	Event       Event     `json:"event"`
	Payload     any       `json:"payload"`
	PublishedAt time.Time `json:"published_at"`
}
