package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/internal/model"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

// Client is one socket watching a job.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	closeSend sync.Once
}

// finish closes Send once, ending writeLoop.
func (c *Client) finish() {
	c.closeSend.Do(func() { close(c.Send) })
}

type frame struct {
	jobID string
	data  []byte
}

// Hub fans job updates out to the sockets watching them. Run must be running
// for Register, Unregister and the Broadcast methods to make progress; once
// Run returns, broadcasts are discarded.
type Hub struct {
	mu     sync.RWMutex
	byJob  map[string]map[*Client]struct{}
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	frames     chan frame
	done       chan struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		byJob:      make(map[string]map[*Client]struct{}),
		logger:     logging.WithComponent(logger, "ws_hub"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		frames:     make(chan frame, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run owns the registry until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case f := <-h.frames:
			h.fanout(f)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	set, ok := h.byJob[c.JobID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byJob[c.JobID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client registered", slog.String("job_id", c.JobID))
}

// remove is idempotent.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.byJob[c.JobID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	c.finish()
	if len(set) == 0 {
		delete(h.byJob, c.JobID)
	}
	h.logger.Debug("client unregistered", slog.String("job_id", c.JobID))
}

func (h *Hub) fanout(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byJob[f.jobID] {
		select {
		case c.Send <- f.data:
		default:
			// Later frames carry the newer state.
			h.logger.Warn("dropping message for slow client", slog.String("job_id", f.jobID))
		}
	}
}

// Subscribers returns how many clients watch jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byJob[jobID])
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister detaches c and closes its Send channel, also after Run has
// stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.finish()
	}
}

// BroadcastProgress reports batch progress to the job's watchers.
func (h *Hub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {
	h.send(jobID, model.WSProgressMessage{
		WSEnvelope:  envelope(model.WSMessageTypeProgress, jobID),
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

// BroadcastSegment announces that one section of the batch has settled.
func (h *Hub) BroadcastSegment(jobID string, item model.ClipItem) {
	h.send(jobID, model.WSSegmentMessage{
		WSEnvelope: envelope(model.WSMessageTypeSegment, jobID),
		Item:       item,
	})
}

func (h *Hub) BroadcastComplete(jobID string, result interface{}) {
	h.send(jobID, model.WSCompleteMessage{
		WSEnvelope: envelope(model.WSMessageTypeComplete, jobID),
		Result:     result,
	})
}

func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.send(jobID, model.WSErrorMessage{
		WSEnvelope: envelope(model.WSMessageTypeError, jobID),
		Error:      model.ItemError{Code: code, Message: message},
	})
}

func envelope(t model.WSMessageType, jobID string) model.WSEnvelope {
	return model.WSEnvelope{Type: t, JobID: jobID}
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", slog.String("error", err.Error()))
		return
	}
	select {
	case h.frames <- frame{jobID: jobID, data: data}:
	case <-h.done:
	}
}

// HandleConnection serves one socket until the peer goes away.
func (h *Hub) HandleConnection(conn *websocket.Conn, jobID string) {
	c := &Client{JobID: jobID, Conn: conn, Send: make(chan []byte, sendBuffer)}
	h.Register(c)
	defer h.Unregister(c)

	go writeLoop(c)
	h.readLoop(c)
}

// writeLoop drains Send onto the socket and pings it so idle proxies keep
// the connection open. It exits when Send is closed or a write fails.
func writeLoop(c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop answers application-level pings. Anything else from the client is
// ignored.
func (h *Hub) readLoop(c *Client) {
	pong, _ := json.Marshal(envelope(model.WSMessageTypePong, c.JobID))
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", slog.String("job_id", c.JobID), slog.String("error", err.Error()))
			}
			return
		}

		var msg model.WSEnvelope
		if json.Unmarshal(data, &msg) != nil || msg.Type != model.WSMessageTypePing {
			continue
		}
		select {
		case c.Send <- pong:
		default:
		}
	}
}
