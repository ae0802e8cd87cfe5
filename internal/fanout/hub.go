// Package fanout broadcasts live execution events to websocket subscribers,
// adapted from a per-username approval hub into a per-workflow-id event
// hub: one registered connection set per workflow, fed by the event log's
// subscriber instead of a human approval queue.
package fanout

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lyzr/swarmx-controlplane/common/logger"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
)

// Hub maintains active websocket connections grouped by workflow id and
// broadcasts envelopes to every connection watching that workflow.
type Hub struct {
	log *logger.Logger

	mu          sync.RWMutex
	connections map[string][]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *message
}

type message struct {
	workflowID string
	envelope   eventlog.Envelope
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:         log,
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *message, 256),
	}
}

// Run drives the hub's single mutating goroutine. Call it once, in a
// goroutine, for the process lifetime.
func (h *Hub) Run() {
	h.log.Info("fanout hub started")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case msg := <-h.broadcast:
			h.broadcastToWorkflow(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[client.workflowID] = append(h.connections[client.workflowID], client)
	h.log.Debug("fanout client registered", "workflow_id", client.workflowID, "total", len(h.connections[client.workflowID]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.connections[client.workflowID]
	for i, c := range clients {
		if c == client {
			h.connections[client.workflowID] = append(clients[:i], clients[i+1:]...)
			close(client.send)
			if len(h.connections[client.workflowID]) == 0 {
				delete(h.connections, client.workflowID)
			}
			break
		}
	}
}

func (h *Hub) broadcastToWorkflow(msg *message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := h.connections[msg.workflowID]
	if len(clients) == 0 {
		return
	}
	payload, err := encodeEnvelope(msg.envelope)
	if err != nil {
		h.log.Warn("fanout: encode envelope failed", "error", err)
		return
	}
	for _, client := range clients {
		select {
		case client.send <- payload:
		default:
			h.log.Warn("fanout: client send buffer full, dropping connection", "workflow_id", client.workflowID)
			close(client.send)
		}
	}
}

// Broadcast enqueues an envelope for delivery to every client watching its
// workflow. Safe to call from any goroutine.
func (h *Hub) Broadcast(env eventlog.Envelope) {
	wid := env.Event.WorkflowID.String()
	select {
	case h.broadcast <- &message{workflowID: wid, envelope: env}:
	default:
		h.log.Warn("fanout: broadcast channel full, dropping envelope", "sequence", env.Sequence)
	}
}

// Serve registers conn under workflowID and starts its read/write pumps.
// The caller (the websocket upgrade handler) owns the *websocket.Conn up
// to this call; Serve takes over its lifecycle from here.
func (h *Hub) Serve(conn *websocket.Conn, workflowID string) {
	client := NewClient(h, conn, workflowID)
	h.register <- client
	go client.writePump()
	go client.readPump()
}

// ConnectionCount returns the total number of live connections across all
// workflows.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.connections {
		n += len(clients)
	}
	return n
}

// Pump drains a Log subscriber and broadcasts every envelope it yields,
// running until stop is closed. Wiring this to a Subscribe(0) subscriber
// in cmd/controlplane is what makes live events reach connected clients.
func (h *Hub) Pump(sub eventlog.Subscriber, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-sub.Notify():
		}
		envs, err := sub.Poll(context.Background())
		if err != nil {
			h.log.Warn("fanout: poll failed", "error", err)
			continue
		}
		for _, env := range envs {
			h.Broadcast(env)
		}
	}
}
