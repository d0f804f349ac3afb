// Package telemetry fans module events out to Server-Sent-Events subscribers.
// Events are buffered per device so that a reconnecting client can resume
// from its Last-Event-ID.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tkn-tub/module-simple/internal/config"
	"github.com/tkn-tub/module-simple/internal/logging"
)

// sendTimeout bounds how long Publish waits on a slow client
const sendTimeout = 100 * time.Millisecond

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID     int64                  `json:"id,omitempty"`
	Type   string                 `json:"type"`
	Data   map[string]interface{} `json:"data"`
	Device string                 `json:"device,omitempty"`
}

// Client represents an SSE client connection.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Context context.Context
	Cancel  context.CancelFunc
	LastID  int64
	Device  string
	Events  chan Event
	mu      sync.Mutex // Protect Writer access
}

// Hub manages SSE telemetry distribution with per-device buffering.
//
// h.mu protects clients, ids and buffers. Each EventBuffer has its own mutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	ids     map[string]*int64 // Monotonic event IDs per device
	buffers map[string]*EventBuffer

	bufferSize        int
	heartbeatInterval time.Duration
	logger            logging.Logger

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a new telemetry hub with the specified configuration.
func NewHub(cfg config.TelemetryConfig, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	size := cfg.EventBufferSize
	if size <= 0 {
		size = 50
	}
	interval := time.Duration(cfg.HeartbeatIntervalSec) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &Hub{
		clients:           make(map[string]*Client),
		ids:               make(map[string]*int64),
		buffers:           make(map[string]*EventBuffer),
		bufferSize:        size,
		heartbeatInterval: interval,
		logger:            logger.With(logging.F("component", "telemetry")),
		done:              make(chan struct{}),
	}
}

// ServeHTTP subscribes the caller to the event stream
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Subscribe(r.Context(), w, r); err != nil {
		h.logger.Warn("SSE subscription ended with error", logging.F("error", err))
	}
}

// Subscribe handles SSE client subscription with Last-Event-ID resume support.
// Event IDs are counted per device, so resume applies only to clients that
// filter on one device with ?device=. It blocks until the client disconnects
// or the hub stops.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	select {
	case <-h.done:
		http.Error(w, "telemetry stopped", http.StatusServiceUnavailable)
		return nil
	default:
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	client := &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Context: clientCtx,
		Cancel:  cancel,
		LastID:  lastEventID,
		Device:  r.URL.Query().Get("device"),
		Events:  make(chan Event, 100),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()
	defer h.unregisterClient(client.ID)

	h.logger.Debug("SSE client connected", logging.F("client", client.ID), logging.F("device", client.Device))

	if err := h.sendEventToClient(client, Event{
		Type: "ready",
		Data: map[string]interface{}{"client": client.ID},
	}); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	replayedUpTo := int64(0)
	if lastEventID > 0 && client.Device != "" {
		last, err := h.replayEvents(client, lastEventID)
		if err != nil {
			return fmt.Errorf("failed to replay events: %w", err)
		}
		replayedUpTo = last
	}

	h.handleClient(client, replayedUpTo)
	return nil
}

// Publish publishes an event to all connected clients.
func (h *Hub) Publish(event Event) error {
	if event.ID == 0 {
		event.ID = h.nextEventID(event.Device)
	}
	if event.Device != "" {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.Device == "" || event.Device == "" || client.Device == event.Device {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	// Send to all clients without holding the lock
	for _, client := range clients {
		timer := time.NewTimer(sendTimeout)
		select {
		case <-client.Context.Done():
		case <-h.done:
			timer.Stop()
			return nil
		case client.Events <- event:
		case <-timer.C:
			h.logger.Debug("Dropped event for slow client", logging.F("client", client.ID))
		}
		timer.Stop()
	}

	return nil
}

// PublishDevice publishes an event for a specific device.
func (h *Hub) PublishDevice(deviceID string, event Event) error {
	event.Device = deviceID
	return h.Publish(event)
}

// DeviceSink adapts the hub to the module's event sink for one device.
type DeviceSink struct {
	hub    *Hub
	device string
}

// DeviceSink returns a sink that tags every event with deviceID
func (h *Hub) DeviceSink(deviceID string) *DeviceSink {
	return &DeviceSink{hub: h, device: deviceID}
}

// Emit publishes one module event
func (s *DeviceSink) Emit(eventType string, data map[string]interface{}) error {
	return s.hub.PublishDevice(s.device, Event{Type: eventType, Data: data})
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// replayEvents sends buffered events after lastEventID and returns the ID of
// the last one sent.
func (h *Hub) replayEvents(client *Client, lastEventID int64) (int64, error) {
	h.mu.RLock()
	buffer, exists := h.buffers[client.Device]
	h.mu.RUnlock()

	if !exists {
		return 0, nil
	}

	last := int64(0)
	for _, event := range buffer.EventsAfter(lastEventID) {
		if err := h.sendEventToClient(client, event); err != nil {
			return last, err
		}
		last = event.ID
	}
	return last, nil
}

// sendEventToClient writes a single event in SSE framing and flushes it.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// handleClient streams queued events. Events of the client's device up to
// replayedUpTo were already sent during replay and are skipped.
func (h *Hub) handleClient(client *Client, replayedUpTo int64) {
	for {
		select {
		case <-client.Context.Done():
			return
		case <-h.done:
			return
		case event := <-client.Events:
			if event.Device != "" && event.Device == client.Device && event.ID <= replayedUpTo {
				continue
			}
			if err := h.sendEventToClient(client, event); err != nil {
				h.logger.Debug("SSE write failed", logging.F("client", client.ID), logging.F("error", err))
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}
	client.Cancel()
	delete(h.clients, clientID)
	h.logger.Debug("SSE client disconnected", logging.F("client", clientID))

	if len(h.clients) == 0 && h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// nextEventID returns the next monotonic event ID for a device.
func (h *Hub) nextEventID(deviceID string) int64 {
	if deviceID == "" {
		deviceID = "global"
	}

	h.mu.RLock()
	counter, exists := h.ids[deviceID]
	h.mu.RUnlock()
	if exists {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, exists = h.ids[deviceID]
	if !exists {
		counter = new(int64)
		h.ids[deviceID] = counter
	}
	h.mu.Unlock()

	return atomic.AddInt64(counter, 1)
}

// bufferEvent adds an event to the per-device buffer. Buffers are never
// removed, so the reference stays valid after h.mu is released.
func (h *Hub) bufferEvent(event Event) {
	h.mu.Lock()
	buffer, exists := h.buffers[event.Device]
	if !exists {
		buffer = NewEventBuffer(h.bufferSize)
		h.buffers[event.Device] = buffer
	}
	h.mu.Unlock()

	buffer.Add(event)
}

// startHeartbeat starts the heartbeat ticker. Caller must hold h.mu.
func (h *Hub) startHeartbeat() {
	h.heartbeatTicker = time.NewTicker(h.heartbeatInterval)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stop := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{
					Type: "heartbeat",
					Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop disconnects all clients and stops the heartbeat.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, client := range h.clients {
			client.Cancel()
		}
		if h.heartbeatTicker != nil {
			h.heartbeatTicker.Stop()
			h.heartbeatTicker = nil
		}
		h.mu.Unlock()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			h.logger.Warn("Telemetry heartbeat did not stop in time")
		}
	})
}

// EventBuffer maintains a circular buffer of events for one device.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewEventBuffer creates a new event buffer with the specified capacity.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Add appends an event, evicting the oldest when full.
func (b *EventBuffer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
}

// EventsAfter returns events with an ID greater than lastID.
func (b *EventBuffer) EventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// Size returns the current buffer size.
func (b *EventBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
