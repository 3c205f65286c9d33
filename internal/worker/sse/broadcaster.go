// Package sse provides Server-Sent Events broadcasting for claude-memory.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds writes to SSE clients so a stale connection
// cannot stall a broadcast.
const WriteTimeout = 2 * time.Second

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string

	closeOnce sync.Once
}

// markDone signals disconnection. Safe to call more than once.
func (c *Client) markDone() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// Broadcaster manages SSE client connections and message broadcasting.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers the connection and hands back its client record.
// Fails when the ResponseWriter cannot flush, since SSE needs streaming.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:      fmt.Sprintf("client-%d", b.nextID),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[client.ID] = client
	connected := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", client.ID).Int("clients", connected).Msg("SSE client connected")
	return client, nil
}

// drop removes a client by id and signals its Done channel. Ids already
// gone are a no-op, so the handler teardown and the dead-client sweep
// can race freely.
func (b *Broadcaster) drop(id string) {
	b.mu.Lock()
	client, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	remaining := len(b.clients)
	b.mu.Unlock()

	if !ok {
		return
	}
	client.markDone()

	log.Debug().Str("clientId", id).Int("clients", remaining).Msg("SSE client disconnected")
}

// RemoveClient removes a client connection. Safe to call for clients
// already dropped by a failed broadcast; Done ends up closed either way.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.drop(client.ID)
	client.markDone()
}

// Broadcast sends a message to all connected clients. Writes run
// concurrently with per-client timeouts; clients that fail or time out
// are dropped.
func (b *Broadcaster) Broadcast(data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	dead := make(chan string, len(clients))
	var wg sync.WaitGroup

	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				if !b.writeToClient(c, message) {
					dead <- c.ID
				}
			}(client)
		}
	}

	wg.Wait()
	close(dead)

	for id := range dead {
		b.drop(id)
	}
}

// writeToClient writes a message to a single client, reporting whether
// the client is still healthy. The write itself runs on a separate
// goroutine so a wedged connection only costs the timeout.
func (b *Broadcaster) writeToClient(client *Client, message string) bool {
	result := make(chan error, 1)

	go func() {
		_, err := client.Writer.Write([]byte(message))
		if err == nil {
			client.Flusher.Flush()
		}
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			log.Debug().Str("clientId", client.ID).Err(err).Msg("SSE write failed, dropping client")
			return false
		}
		return true
	case <-time.After(WriteTimeout):
		log.Warn().Str("clientId", client.ID).Dur("timeout", WriteTimeout).Msg("SSE write timed out, dropping client")
		return false
	case <-client.Done:
		// Client disconnected mid-write.
		return true
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves one SSE connection until the request context ends.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	// Hello event so the dashboard learns its id.
	hello, _ := json.Marshal(map[string]string{"type": "connected", "clientId": client.ID})
	fmt.Fprintf(w, "data: %s\n\n", hello)
	client.Flusher.Flush()

	<-r.Context().Done()
}
