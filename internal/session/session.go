// Package session owns one WebSocket connection: the readPump/writePump
// goroutine pair grounded on pkg/handlers' readPump/writePump, generalized
// from a map[string]interface{} switch to typed room.Command dispatch,
// and from an unbounded send channel to a bounded one with an explicit
// overflow-close policy.
package session

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"collab-canvas/internal/canvas"
	"collab-canvas/internal/logging"
	"collab-canvas/internal/metrics"
	"collab-canvas/internal/ratelimit"
	"collab-canvas/internal/room"
)

const (
	maxFrameBytes  = 1 << 20 // 1 MiB; larger inbound frames are rejected
	pingInterval   = 50 * time.Second
	pongGrace      = 3 * pingInterval // three missed pongs before we give up
	writeTimeout   = 10 * time.Second
	outboundBuffer = 256
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Session implements room.Attachment for one live WebSocket connection.
type Session struct {
	id       string
	userID   string
	userName string
	role     room.Role

	conn   *websocket.Conn
	send   chan []byte
	actor  *room.Actor
	cursor *rate.Limiter
	log    *zap.Logger
}

// inboundFrame mirrors room.Envelope but Data stays raw so each command
// type decodes only the shape it needs.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Serve upgrades the HTTP request to a WebSocket, joins roomName with the
// supplied password, and blocks until the connection closes. Run from the
// HTTP handler's goroutine.
func Serve(w http.ResponseWriter, r *http.Request, actor *room.Actor, roomName, userName, password string) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	// userId is client-supplied so it (and the cursor color derived from
	// it) survives reconnects; a random one is generated only when absent.
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = uuid.NewString()
	}
	s := &Session{
		id:       sessionID,
		userID:   userID,
		userName: userName,
		role:     room.RoleReadonly,
		conn:     conn,
		send:     make(chan []byte, outboundBuffer),
		actor:    actor,
		cursor:   ratelimit.NewCursorLimiter(),
		log:      logging.Session(sessionID, userID),
	}

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongGrace))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongGrace))
		return nil
	})

	done := make(chan struct{})
	go s.writePump(done)

	init, err := s.joinWithRetry(password)
	if err != nil {
		close(done)
		conn.Close()
		return err
	}

	s.role = init.UserRole
	s.deliverEnvelope("init", init)

	s.readPump()
	close(done)

	leaveReply := make(chan room.Result, 1)
	s.actor.Send(room.Command{Kind: room.KindLeave, From: s, Reply: leaveReply})
	<-leaveReply
	metrics.SessionsClosed.WithLabelValues("disconnect").Inc()
	return nil
}

// joinWithRetry attempts to join the room with password, and on rejection
// sends an "error" frame over the still-open connection instead of closing
// the socket, then waits for a "joinRoom" retry frame carrying a new
// password. The session's room binding is what gets rejected, never the
// transport, so a client that mistyped a password can retry without
// reconnecting.
func (s *Session) joinWithRetry(password string) (*room.InitPayload, error) {
	for {
		reply := make(chan room.Result, 1)
		s.actor.Send(room.Command{Kind: room.KindJoin, From: s, Password: password, Reply: reply})
		res := <-reply
		if res.Err == nil {
			return res.Init, nil
		}
		s.log.Warn("join rejected", zap.Error(res.Err))
		s.deliverEnvelope("error", map[string]string{"message": res.Err.Error()})

		next, err := s.nextJoinAttempt()
		if err != nil {
			return nil, err
		}
		password = next
	}
}

// nextJoinAttempt blocks for the client's next "joinRoom" frame, discarding
// any other frame type in the meantime — the connection is open but
// unauthenticated until a retry succeeds or the socket closes.
func (s *Session) nextJoinAttempt() (string, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type != "joinRoom" {
			continue
		}
		var body struct {
			Password string `json:"password"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			continue
		}
		return body.Password, nil
	}
}

func (s *Session) readPump() {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("session readPump panic", zap.Any("panic", rec), zap.String("stack", string(debug.Stack())))
		}
		s.conn.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("unexpected close", zap.Error(err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Debug("malformed frame", zap.Error(err))
			continue
		}
		s.dispatch(frame)
	}
}

func (s *Session) dispatch(frame inboundFrame) {
	switch frame.Type {
	case "add":
		var el canvas.Element
		if err := json.Unmarshal(frame.Data, &el); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindAdd, From: s, Element: &el})

	case "update":
		var partial map[string]any
		if err := json.Unmarshal(frame.Data, &partial); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindUpdate, From: s, Partial: partial})

	case "move":
		var partial map[string]any
		if err := json.Unmarshal(frame.Data, &partial); err != nil {
			return
		}
		action, _ := partial["action"].(string)
		s.send1(room.Command{Kind: room.KindMove, From: s, Partial: partial, Action: action})

	case "delete":
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindDelete, From: s, ID: body.ID})

	case "clear":
		s.send1(room.Command{Kind: room.KindClear, From: s})

	case "shapeSelect":
		var body struct {
			ID     string `json:"id"`
			Action string `json:"action"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindShapeSelect, From: s, ID: body.ID, Action: body.Action})

	case "shapeRelease":
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindShapeRelease, From: s, ID: body.ID})

	case "addLayer":
		var l canvas.Layer
		if err := json.Unmarshal(frame.Data, &l); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindAddLayer, From: s, Layer: &l})

	case "updateLayer":
		var partial map[string]any
		if err := json.Unmarshal(frame.Data, &partial); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindUpdateLayer, From: s, LayerPartial: partial})

	case "deleteLayer":
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindDeleteLayer, From: s, ID: body.ID})

	case "fullSync":
		var body struct {
			Elements []*canvas.Element `json:"elements"`
			Layers   []*canvas.Layer   `json:"layers"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindFullSync, From: s, SyncElements: body.Elements, SyncLayers: body.Layers})

	case "setPasswords":
		var body struct {
			Admin    string `json:"adminPassword"`
			Readonly string `json:"readonlyPassword"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			return
		}
		adminHash, err := room.HashPassword(body.Admin)
		if err != nil {
			return
		}
		readonlyHash, err := room.HashPassword(body.Readonly)
		if err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindSetPasswords, From: s, AdminPassword: adminHash, ReadonlyPassword: readonlyHash})

	case "cursor":
		if !s.cursor.Allow() {
			return
		}
		var body struct {
			X      float64 `json:"x"`
			Y      float64 `json:"y"`
			WorldX float64 `json:"worldX"`
			WorldY float64 `json:"worldY"`
			Action string  `json:"action"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			return
		}
		s.send1(room.Command{
			Kind: room.KindCursor, From: s,
			CursorX: body.X, CursorY: body.Y,
			CursorWorldX: body.WorldX, CursorWorldY: body.WorldY,
			CursorAction: body.Action,
		})

	case "userInfo":
		var body struct {
			UserName string `json:"userName"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			return
		}
		s.send1(room.Command{Kind: room.KindUserInfo, From: s, UserName: body.UserName})

	case "ping":
		s.Deliver([]byte(`{"type":"pong","data":null}`))

	default:
		s.log.Debug("unknown frame type", zap.String("type", frame.Type))
	}
}

// send1 fires a command without waiting for a reply; the actor applies it
// asynchronously. Used for every in-room mutation once joined, since the
// session doesn't need to block the read loop on the result.
func (s *Session) send1(cmd room.Command) {
	s.actor.Send(cmd)
}

func (s *Session) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Session) deliverEnvelope(typ string, data any) {
	frame, err := json.Marshal(room.Envelope{Type: typ, Data: data})
	if err != nil {
		return
	}
	s.Deliver(frame)
}

// Deliver implements room.Attachment. Drops the connection on overflow
// rather than blocking the room actor's single-writer loop — a slow reader
// must never stall every other session in the room.
func (s *Session) Deliver(frame []byte) {
	select {
	case s.send <- frame:
	default:
		metrics.SessionsClosed.WithLabelValues("overflow").Inc()
		go s.conn.Close()
	}
}

func (s *Session) SessionID() string   { return s.id }
func (s *Session) UserID() string      { return s.userID }
func (s *Session) UserName() string    { return s.userName }
func (s *Session) Role() room.Role     { return s.role }
func (s *Session) SetRole(r room.Role) { s.role = r }
func (s *Session) SetUserName(n string) {
	if n != "" {
		s.userName = n
	}
}
