package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"scriptd/pkg/logx"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon serves its own UI; cross-origin access is fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsLogs streams live log events to one WebSocket client as JSON frames.
// With a path id, only that script's events are delivered. The client's
// bus queue is bounded; a client that cannot keep up loses the newest
// events rather than stalling producers.
func (s *Server) wsLogs(c echo.Context) error {
	var scriptID int64
	if c.Param("id") != "" {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		if _, err := s.store.Get(c.Request().Context(), id); err != nil {
			return coreErr(err)
		}
		scriptID = id
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	events, unsub := s.rec.Bus().Subscribe(s.cfg.subscriberBuffer(), scriptID)
	defer unsub()
	defer conn.Close()

	log := s.log.With(logx.String("remote", conn.RemoteAddr().String()), logx.Int64("script_id", scriptID))
	log.Debug("log feed client connected")
	defer log.Debug("log feed client disconnected")

	// Reader exists only to surface close frames and pongs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case e := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
