package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the visualizer is served from a different origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /result/{task_id}/watch
//
// Sends the poll payload once the job is terminal, then closes.
func (s *server) handleWatch(w http.ResponseWriter, r *http.Request) {
	job, ok := s.poll(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.watchTimeout)
	defer cancel()

	// a read error means the peer went away
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	if !job.Status.Terminal() {
		job, err = s.jobs.Wait(ctx, job.ID)
		if err != nil {
			closeWith(conn, websocket.CloseGoingAway, "watch ended before the task finished")
			return
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(toResult(job)); err != nil {
		s.logger.Debug("websocket write failed", "job_id", job.ID, "err", err)
		return
	}
	closeWith(conn, websocket.CloseNormalClosure, "")
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
