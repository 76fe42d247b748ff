package bus

import "github.com/sipeed/clawfeed/pkg/events"

// DefaultCapacity is the number of recent events retained for replay.
const DefaultCapacity = 100

// SubscriptionID identifies one registered handler.
type SubscriptionID string

// NoSubscription is returned by a closed bus. The handler was not registered.
const NoSubscription SubscriptionID = ""

// Handler receives published events. Handlers run while the bus holds its
// lock: they must not block and must not call back into the bus.
type Handler func(events.Event)

// Publisher is the only thing producers need from the bus.
type Publisher interface {
	Publish(event events.Event)
}
