// Package broadcast fans progress messages published on the
// scheduler substrate out to WebSocket subscribers. Grounded on the
// original API's ConnectionManager (per-scan, per-firmware, and
// global connection buckets, best-effort send with swallowed
// per-socket errors).
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/abhiramgcos/soc-netscan/internal/substrate"
)

// Hub tracks active WebSocket subscribers and fans out progress
// payloads received from the substrate's pub/sub channels.
type Hub struct {
	mu sync.Mutex

	scanConns     map[string][]*websocket.Conn
	firmwareConns map[string][]*websocket.Conn
	global        []*websocket.Conn
}

// New constructs an empty Hub.
func New() *Hub {
	return &Hub{
		scanConns:     make(map[string][]*websocket.Conn),
		firmwareConns: make(map[string][]*websocket.Conn),
	}
}

// Subscribe registers conn against a scan ID, or as a global watcher
// when scanID is empty.
func (h *Hub) Subscribe(conn *websocket.Conn, scanID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if scanID == "" {
		h.global = append(h.global, conn)
		return
	}
	h.scanConns[scanID] = append(h.scanConns[scanID], conn)
}

// SubscribeFirmware registers conn against a firmware analysis ID.
func (h *Hub) SubscribeFirmware(conn *websocket.Conn, analysisID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.firmwareConns[analysisID] = append(h.firmwareConns[analysisID], conn)
}

// Unsubscribe removes conn from a scan's bucket, or the global bucket
// when scanID is empty.
func (h *Hub) Unsubscribe(conn *websocket.Conn, scanID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if scanID == "" {
		h.global = removeConn(h.global, conn)
		return
	}
	remaining := removeConn(h.scanConns[scanID], conn)
	if len(remaining) == 0 {
		delete(h.scanConns, scanID)
	} else {
		h.scanConns[scanID] = remaining
	}
}

// UnsubscribeFirmware removes conn from a firmware analysis bucket.
func (h *Hub) UnsubscribeFirmware(conn *websocket.Conn, analysisID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remaining := removeConn(h.firmwareConns[analysisID], conn)
	if len(remaining) == 0 {
		delete(h.firmwareConns, analysisID)
	} else {
		h.firmwareConns[analysisID] = remaining
	}
}

func removeConn(conns []*websocket.Conn, target *websocket.Conn) []*websocket.Conn {
	out := conns[:0]
	for _, c := range conns {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// BroadcastScan sends payload to every watcher of scanID plus every
// global watcher. Send failures are logged and swallowed — one dead
// socket never blocks delivery to the rest.
func (h *Hub) BroadcastScan(scanID string, payload []byte) {
	h.mu.Lock()
	targets := append(append([]*websocket.Conn{}, h.scanConns[scanID]...), h.global...)
	h.mu.Unlock()
	h.sendAll(targets, payload)
}

// BroadcastFirmware sends payload to every watcher of analysisID plus
// every global watcher.
func (h *Hub) BroadcastFirmware(analysisID string, payload []byte) {
	h.mu.Lock()
	targets := append(append([]*websocket.Conn{}, h.firmwareConns[analysisID]...), h.global...)
	h.mu.Unlock()
	h.sendAll(targets, payload)
}

// BroadcastGlobal sends payload to every global watcher.
func (h *Hub) BroadcastGlobal(payload []byte) {
	h.mu.Lock()
	targets := append([]*websocket.Conn{}, h.global...)
	h.mu.Unlock()
	h.sendAll(targets, payload)
}

func (h *Hub) sendAll(targets []*websocket.Conn, payload []byte) {
	for _, conn := range targets {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Debug("broadcast send failed", "error", err)
		}
	}
}

type pongMessage struct {
	Type string `json:"type"`
}

// HandleKeepAlive replies with {"type":"pong"} when the client sends
// the literal text "ping"; any other payload is ignored.
func HandleKeepAlive(conn *websocket.Conn, payload []byte) {
	if strings.TrimSpace(string(payload)) != "ping" {
		return
	}
	pong, err := json.Marshal(pongMessage{Type: "pong"})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, pong)
}

// Run subscribes to the substrate's per-kind pattern channels and
// forwards every message it receives to the matching broadcast
// bucket, extracting the job ID from the channel name
// ("soc:scan:<id>" / "soc:firmware:<id>"). It blocks until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context, sub *substrate.Substrate) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.pumpPattern(ctx, sub, substrate.KindScan, h.BroadcastScan)
	}()
	go func() {
		defer wg.Done()
		h.pumpPattern(ctx, sub, substrate.KindFirmware, h.BroadcastFirmware)
	}()
	wg.Wait()
}

func (h *Hub) pumpPattern(ctx context.Context, sub *substrate.Substrate, kind substrate.Kind, deliver func(id string, payload []byte)) {
	ps := sub.SubscribePattern(ctx, kind)
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id := jobIDFromChannel(string(kind), msg.Channel)
			if id == "" {
				continue
			}
			deliver(id, []byte(msg.Payload))
		}
	}
}

func jobIDFromChannel(kind, channel string) string {
	prefix := "soc:" + kind + ":"
	if !strings.HasPrefix(channel, prefix) {
		return ""
	}
	return strings.TrimPrefix(channel, prefix)
}
