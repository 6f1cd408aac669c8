package room

import (
	"encoding/json"
	"runtime/debug"

	"go.uber.org/zap"

	"collab-canvas/internal/canvas"
	"collab-canvas/internal/logging"
	"collab-canvas/internal/metrics"
	"collab-canvas/internal/palette"
)

// Actor owns exactly one canvas.Room and the set of sessions currently
// attached to it. All access to the room's state is serialized through
// run()'s single select loop, generalizing a three-channel
// (Register/Unregister/Broadcast) pattern into one typed Command envelope.
type Actor struct {
	name    string
	inbox   chan Command
	done    chan struct{}
	onEmpty func(name string)
}

// NewActor constructs an actor around an already-loaded (or freshly
// created) room and starts its run loop. onEmpty is invoked, off the
// actor's own goroutine, once the last session detaches.
func NewActor(r *canvas.Room, onEmpty func(name string)) *Actor {
	a := &Actor{
		name:    r.Name,
		inbox:   make(chan Command, 64),
		done:    make(chan struct{}),
		onEmpty: onEmpty,
	}
	go a.run(r)
	return a
}

// Send enqueues a command. The command's Reply channel, if any, receives
// exactly one Result once the actor has applied it.
//
// done is checked non-blocking before attempting to enqueue: once Stop has
// been called, a plain two-way select against a buffered inbox channel
// would race (both cases can be simultaneously ready), sometimes queuing a
// command no goroutine will ever read. Checking done first gives it
// priority once it's closed.
func (a *Actor) Send(cmd Command) {
	select {
	case <-a.done:
		if cmd.Reply != nil {
			cmd.Reply <- Result{Err: ErrRoomNotFound}
		}
		return
	default:
	}

	select {
	case a.inbox <- cmd:
	case <-a.done:
		if cmd.Reply != nil {
			cmd.Reply <- Result{Err: ErrRoomNotFound}
		}
	}
}

// Stop requests the actor's loop to exit after draining its inbox. Used by
// the registry's grace-period unload.
func (a *Actor) Stop() { close(a.done) }

func (a *Actor) run(r *canvas.Room) {
	sessions := make(map[string]Attachment) // keyed by Attachment.SessionID()
	log := logging.Room(a.name)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("room actor panic", zap.Any("panic", rec), zap.String("stack", string(debug.Stack())))
		}
		metrics.ActiveRooms.Dec()
	}()
	metrics.ActiveRooms.Inc()

	for {
		select {
		case cmd := <-a.inbox:
			a.apply(r, sessions, log, cmd)
		case <-a.done:
			for {
				select {
				case cmd := <-a.inbox:
					a.apply(r, sessions, log, cmd)
				default:
					return
				}
			}
		}
	}
}

func (a *Actor) apply(r *canvas.Room, sessions map[string]Attachment, log *zap.Logger, cmd Command) {
	outcome := "ok"
	defer func() {
		metrics.CommandsTotal.WithLabelValues(kindName(cmd.Kind), outcome).Inc()
	}()

	switch cmd.Kind {
	case KindJoin:
		role, err := authorize(r.AdminPasswordHash, r.ReadonlyPasswordHash, cmd.Password)
		if err != nil {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: err})
			return
		}
		cmd.From.SetRole(role)
		sessions[cmd.From.SessionID()] = cmd.From
		metrics.RoomSessions.WithLabelValues(a.name).Set(float64(len(sessions)))

		color := palette.ColorFor(cmd.From.UserID())
		init := &InitPayload{
			Elements:            r.OrderedElements(),
			Layers:              r.Layers,
			Camera:              r.Camera,
			IsPasswordProtected: r.AdminPasswordHash != "" || r.ReadonlyPasswordHash != "",
			UserRole:            role,
			UserCount:           len(sessions),
			Color:               color,
		}
		a.broadcastExcept(sessions, cmd.From.SessionID(), "userJoined", Stamped{
			UserID:   cmd.From.UserID(),
			UserName: cmd.From.UserName(),
			Color:    color,
		})
		reply(cmd.Reply, Result{Init: init})

	case KindLeave:
		id := cmd.From.SessionID()
		delete(sessions, id)
		releasedAny := false
		for eid, holder := range r.ShapeHolders {
			if holder.UserID == cmd.From.UserID() {
				delete(r.ShapeHolders, eid)
				releasedAny = true
				a.broadcastAll(sessions, "shapeRelease", shapeReleasePayload(cmd.From, eid))
			}
		}
		_ = releasedAny
		metrics.RoomSessions.WithLabelValues(a.name).Set(float64(len(sessions)))
		a.broadcastAll(sessions, "userLeft", Stamped{
			UserID:   cmd.From.UserID(),
			UserName: cmd.From.UserName(),
			Color:    palette.ColorFor(cmd.From.UserID()),
		})
		reply(cmd.Reply, Result{})
		if len(sessions) == 0 && a.onEmpty != nil {
			go a.onEmpty(a.name)
		}

	case KindAdd:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		if err := r.InsertElement(cmd.Element); err != nil {
			outcome = "rejected"
			reply(cmd.Reply, Result{Err: err})
			return
		}
		r.Touch()
		a.broadcastExcept(sessions, cmd.From.SessionID(), "add", stampedData(cmd.From, cmd.Element))
		reply(cmd.Reply, Result{})

	case KindUpdate:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		id, _ := cmd.Partial["id"].(string)
		el, ok := r.Elements[id]
		if !ok {
			outcome = "not_found"
			reply(cmd.Reply, Result{}) // not-found: silent ignore, idempotent
			return
		}
		mergeInto(r, el, cmd.Partial)
		r.Touch()
		a.broadcastExcept(sessions, cmd.From.SessionID(), "update", stampedData(cmd.From, el))
		reply(cmd.Reply, Result{})

	case KindMove:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		id, _ := cmd.Partial["id"].(string)
		el, ok := r.Elements[id]
		if !ok {
			outcome = "not_found"
			reply(cmd.Reply, Result{})
			return
		}
		mergeInto(r, el, cmd.Partial)
		r.Touch()
		r.ShapeHolders[id] = canvas.ShapeHolder{
			UserID:     cmd.From.UserID(),
			UserName:   cmd.From.UserName(),
			Action:     cmd.Action,
			AcquiredAt: nowUTC(),
		}
		a.broadcastExcept(sessions, cmd.From.SessionID(), "move", stampedData(cmd.From, el))
		reply(cmd.Reply, Result{})

	case KindDelete:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		r.DeleteElement(cmd.ID)
		r.Touch()
		a.broadcastExcept(sessions, cmd.From.SessionID(), "delete", stampedData(cmd.From, map[string]string{"id": cmd.ID}))
		reply(cmd.Reply, Result{})

	case KindClear:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		r.Clear()
		r.Touch()
		a.broadcastExcept(sessions, cmd.From.SessionID(), "clear", stampedData(cmd.From, struct{}{}))
		reply(cmd.Reply, Result{})

	case KindShapeSelect:
		r.ShapeHolders[cmd.ID] = canvas.ShapeHolder{
			UserID:     cmd.From.UserID(),
			UserName:   cmd.From.UserName(),
			Action:     cmd.Action,
			AcquiredAt: nowUTC(),
		}
		a.broadcastExcept(sessions, cmd.From.SessionID(), "shapeSelect", shapeSelectPayload(cmd.From, cmd.ID, cmd.Action))
		reply(cmd.Reply, Result{})

	case KindShapeRelease:
		if holder, ok := r.ShapeHolders[cmd.ID]; ok && holder.UserID == cmd.From.UserID() {
			delete(r.ShapeHolders, cmd.ID)
			a.broadcastExcept(sessions, cmd.From.SessionID(), "shapeRelease", shapeReleasePayload(cmd.From, cmd.ID))
		}
		reply(cmd.Reply, Result{})

	case KindAddLayer:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		if err := r.AddLayer(cmd.Layer); err != nil {
			outcome = "rejected"
			reply(cmd.Reply, Result{Err: err})
			return
		}
		r.Touch()
		a.broadcastExcept(sessions, cmd.From.SessionID(), "addLayer", stampedData(cmd.From, cmd.Layer))
		reply(cmd.Reply, Result{})

	case KindUpdateLayer:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		id, _ := cmd.LayerPartial["id"].(string)
		l := r.LayerByID(id)
		if l == nil {
			outcome = "not_found"
			reply(cmd.Reply, Result{})
			return
		}
		mergeLayerInto(l, cmd.LayerPartial)
		r.Touch()
		a.broadcastExcept(sessions, cmd.From.SessionID(), "updateLayer", stampedData(cmd.From, l))
		reply(cmd.Reply, Result{})

	case KindDeleteLayer:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		if err := r.DeleteLayer(cmd.ID); err != nil {
			outcome = "rejected"
			reply(cmd.Reply, Result{Err: err})
			return
		}
		r.Touch()
		a.broadcastExcept(sessions, cmd.From.SessionID(), "deleteLayer", stampedData(cmd.From, map[string]string{"id": cmd.ID}))
		reply(cmd.Reply, Result{})

	case KindFullSync:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		r.FullSync(cmd.SyncElements, cmd.SyncLayers)
		r.Touch()
		a.broadcastExcept(sessions, cmd.From.SessionID(), "fullSync", stampedData(cmd.From, map[string]any{
			"elements": r.OrderedElements(),
			"layers":   r.Layers,
		}))
		reply(cmd.Reply, Result{})

	case KindSetPasswords:
		if cmd.From.Role() != RoleAdmin {
			outcome = "forbidden"
			reply(cmd.Reply, Result{Err: ErrForbidden})
			return
		}
		r.AdminPasswordHash = cmd.AdminPassword
		r.ReadonlyPasswordHash = cmd.ReadonlyPassword
		r.Touch()
		a.broadcastExcept(sessions, cmd.From.SessionID(), "roomPasswordChanged", stampedData(cmd.From, map[string]bool{
			"isPasswordProtected": cmd.AdminPassword != "" || cmd.ReadonlyPassword != "",
		}))
		reply(cmd.Reply, Result{})

	case KindCursor:
		payload := stampedData(cmd.From, map[string]any{
			"x": cmd.CursorX, "y": cmd.CursorY,
			"worldX": cmd.CursorWorldX, "worldY": cmd.CursorWorldY,
			"action": cmd.CursorAction,
		})
		a.broadcastExcept(sessions, cmd.From.SessionID(), "cursor", payload)
		reply(cmd.Reply, Result{})

	case KindUserInfo:
		cmd.From.SetUserName(cmd.UserName)
		reply(cmd.Reply, Result{})

	case KindSnapshot:
		snap := r.ToSnapshot()
		reply(cmd.Reply, Result{Snap: &snap, Dirty: r.Dirty, Version: r.Version()})

	case KindClearDirty:
		r.ClearDirtyIfVersion(cmd.Version)
		reply(cmd.Reply, Result{})

	default:
		log.Warn("unknown command kind", zap.Int("kind", int(cmd.Kind)))
		reply(cmd.Reply, Result{})
	}
}

func reply(ch chan Result, res Result) {
	if ch == nil {
		return
	}
	ch <- res
}

// mergeInto applies a JSON-decoded partial patch onto an existing element
// by round-tripping through json.Unmarshal: only keys present in the patch
// overwrite the corresponding struct field, leaving the rest untouched.
// layerId is special-cased: it never reaches el.LayerID through the
// generic merge, since assigning it directly would desync the two-way
// element<->layer index (the same reason mergeLayerInto restores
// l.Elements after its own merge). Any layerId in the patch is instead
// routed through Room.MoveElementToLayer, which keeps both layers'
// Elements slices consistent.
func mergeInto(r *canvas.Room, el *canvas.Element, partial map[string]any) {
	newLayerID, movingLayer := partial["layerId"].(string)
	if _, present := partial["layerId"]; present {
		delete(partial, "layerId")
	}

	b, err := json.Marshal(partial)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, el)
	el.ID = el.ID // id never changes via patch; field already matches map key

	if movingLayer {
		r.MoveElementToLayer(el.ID, newLayerID)
	}
}

func mergeLayerInto(l *canvas.Layer, partial map[string]any) {
	elements := l.Elements
	b, err := json.Marshal(partial)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, l)
	// Layer membership is maintained by RebuildIndex/Insert/Delete, never
	// by a client-sent patch — restore it regardless of what the patch said.
	l.Elements = elements
}

func stampedData(from Attachment, data any) map[string]any {
	return map[string]any{
		"userId":   from.UserID(),
		"userName": from.UserName(),
		"color":    palette.ColorFor(from.UserID()),
		"payload":  data,
	}
}

func shapeSelectPayload(from Attachment, id, action string) map[string]any {
	return map[string]any{
		"userId":   from.UserID(),
		"userName": from.UserName(),
		"id":       id,
		"action":   action,
	}
}

func shapeReleasePayload(from Attachment, id string) map[string]any {
	return map[string]any{
		"userId":   from.UserID(),
		"userName": from.UserName(),
		"id":       id,
	}
}

func (a *Actor) broadcastExcept(sessions map[string]Attachment, exceptSessionID, typ string, data any) {
	frame, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		return
	}
	metrics.BroadcastsTotal.WithLabelValues(typ).Inc()
	for id, s := range sessions {
		if id == exceptSessionID {
			continue
		}
		s.Deliver(frame)
	}
}

func (a *Actor) broadcastAll(sessions map[string]Attachment, typ string, data any) {
	frame, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		return
	}
	metrics.BroadcastsTotal.WithLabelValues(typ).Inc()
	for _, s := range sessions {
		s.Deliver(frame)
	}
}

func kindName(k Kind) string {
	names := [...]string{
		"join", "leave", "add", "update", "move", "delete", "clear",
		"shapeSelect", "shapeRelease", "addLayer", "updateLayer", "deleteLayer",
		"fullSync", "setPasswords", "cursor", "userInfo", "snapshot", "clearDirty",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

