package apihttp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteDeadline = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsPongWait      = 60 * time.Second
	wsReadLimit     = 1024
	wsSendBuffer    = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is what a client may send on the progress socket. Only the
// ready signal is meaningful; everything else is ignored.
type clientFrame struct {
	Type string `json:"type"`
}

var errTransportClosed = errors.New("ws transport closed")

// wsTransport adapts one websocket connection to the jobs.Transport
// contract: single-writer delivery through a buffered send channel, ping
// keepalive, ready frames forwarded to the registry.
type wsTransport struct {
	jobID     string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	registry  JobRegistry
	logger    *slog.Logger
}

func newWSTransport(jobID string, conn *websocket.Conn, registry JobRegistry, logger *slog.Logger) *wsTransport {
	return &wsTransport{
		jobID:    jobID,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		done:     make(chan struct{}),
		registry: registry,
		logger:   logger,
	}
}

// Send queues one frame for delivery. A full buffer means the client has
// stopped draining; the frame is refused so the registry detaches us.
func (t *wsTransport) Send(payload []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	select {
	case t.send <- payload:
		return nil
	case <-t.done:
		return errTransportClosed
	default:
		return errors.New("ws send buffer full")
	}
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()
	for {
		select {
		case <-t.done:
			_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			_ = t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = t.Close()
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = t.Close()
				return
			}
		}
	}
}

func (t *wsTransport) readPump() {
	defer func() {
		t.registry.Detach(t.jobID, t)
		_ = t.Close()
		t.conn.Close()
	}()
	t.conn.SetReadLimit(wsReadLimit)
	_ = t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	t.conn.SetPongHandler(func(string) error {
		_ = t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		if frame.Type == "ready" {
			if err := t.registry.MarkReady(t.jobID); err != nil {
				t.logger.Debug("ready frame for unknown job", slog.String("jobId", t.jobID))
			}
		}
	}
}

func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "jobId is required")
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("jobId", jobID), slog.String("error", err.Error()))
		return
	}

	transport := newWSTransport(jobID, conn, s.jobs, s.logger)
	if err := s.jobs.Attach(jobID, transport); err != nil {
		s.logger.Warn("ws attach failed", slog.String("jobId", jobID), slog.String("error", err.Error()))
		_ = transport.Close()
		conn.Close()
		return
	}
	go transport.writePump()
	go transport.readPump()
}
