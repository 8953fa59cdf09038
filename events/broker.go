package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Broker fans run and step events out to SSE subscribers. The runner
// broadcasts through it when one is attached; subscribers that fall behind
// simply miss events rather than blocking a run.
type Broker struct {
	clients map[chan string]bool
	mu      sync.RWMutex
}

var broker = &Broker{
	clients: make(map[chan string]bool),
}

// GetBroker returns the process-wide broker.
func GetBroker() *Broker {
	return broker
}

// Register adds an SSE client channel.
func (b *Broker) Register(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	log.Printf("event client connected (total: %d)", len(b.clients))
}

// Unregister removes an SSE client and closes its channel.
func (b *Broker) Unregister(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, client)
	close(client)
	log.Printf("event client disconnected (total: %d)", len(b.clients))
}

// Broadcast sends one event to every connected client. Payloads must be
// JSON-serializable; the wire format is a ready-to-write SSE frame.
func (b *Broker) Broadcast(eventType string, data interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal %s event: %v", eventType, err)
		return
	}

	message := fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload)

	for client := range b.clients {
		select {
		case client <- message:
		default:
			// Client buffer full, drop rather than stall the run.
		}
	}
}
