package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

// handleWS authenticates, upgrades the connection, and hands it to the hub.
// The read loop exists only to answer pings and detect client disconnect;
// inbound data frames are discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(tokenFromRequest(r)) {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	watcher := &wsConn{conn: conn}
	if err := s.hub.Subscribe(watcher, s.registry.Snapshot()); err != nil {
		s.logger.Debug("watcher subscription failed", zap.Error(err))
		return
	}

	go s.watchReadLoop(watcher)
}

func (s *Server) watchReadLoop(watcher *wsConn) {
	defer s.hub.Unsubscribe(watcher)
	rw := lockedRW{c: watcher}
	for {
		if _, _, err := wsutil.ReadClientData(rw); err != nil {
			return
		}
	}
}

// wsConn adapts a hijacked connection to the hub's Conn interface. The
// mutex serializes every outbound frame, including control replies from the
// read loop, so broadcast frames never interleave.
type wsConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *wsConn) WriteText(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := wsutil.WriteServerText(c.conn, payload); err != nil {
		return fmt.Errorf("write text frame: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteFrame(c.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	c.mu.Unlock()
	return c.conn.Close()
}

// lockedRW lets read helpers write control replies under the same lock as
// broadcasts.
type lockedRW struct {
	c *wsConn
}

func (l lockedRW) Read(p []byte) (int, error) {
	return l.c.conn.Read(p)
}

func (l lockedRW) Write(p []byte) (int, error) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.c.conn.Write(p)
}
