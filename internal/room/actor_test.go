package room

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-canvas/internal/canvas"
)

// mockAttachment is an in-memory Attachment used across the actor and
// registry tests, in the style of a hand-rolled MockClient test double.
type mockAttachment struct {
	mu       sync.Mutex
	id       string
	userID   string
	userName string
	role     Role
	frames   [][]byte
}

func newMockAttachment(id string) *mockAttachment {
	return &mockAttachment{id: id, userID: id, userName: "user-" + id}
}

func (m *mockAttachment) SessionID() string { return m.id }
func (m *mockAttachment) UserID() string    { return m.userID }
func (m *mockAttachment) UserName() string  { return m.userName }
func (m *mockAttachment) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}
func (m *mockAttachment) SetRole(r Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.role = r
}
func (m *mockAttachment) SetUserName(n string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userName = n
}
func (m *mockAttachment) Deliver(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
}

func (m *mockAttachment) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func joinRoom(t *testing.T, a *Actor, from Attachment, password string) *InitPayload {
	t.Helper()
	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindJoin, From: from, Password: password, Reply: reply})
	res := <-reply
	require.NoError(t, res.Err)
	return res.Init
}

func TestActorJoinGrantsAdminWhenNoPasswords(t *testing.T) {
	r := canvas.New("room-1")
	a := NewActor(r, nil)
	defer a.Stop()

	client := newMockAttachment("c1")
	init := joinRoom(t, a, client, "")
	assert.Equal(t, RoleAdmin, init.UserRole)
	assert.Equal(t, RoleAdmin, client.Role())
}

func TestActorAddRejectedForReadonly(t *testing.T) {
	r := canvas.New("room-2")
	hash, err := HashPassword("view-only")
	require.NoError(t, err)
	r.ReadonlyPasswordHash = hash
	r.AdminPasswordHash = "something-admin-only"

	a := NewActor(r, nil)
	defer a.Stop()

	client := newMockAttachment("c1")
	init := joinRoom(t, a, client, "view-only")
	require.Equal(t, RoleReadonly, init.UserRole)

	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindAdd, From: client, Element: &canvas.Element{ID: "e1", Shape: "rect"}, Reply: reply})
	res := <-reply
	assert.ErrorIs(t, res.Err, ErrForbidden)
}

func TestActorAddBroadcastsToOtherSessions(t *testing.T) {
	r := canvas.New("room-3")
	a := NewActor(r, nil)
	defer a.Stop()

	admin := newMockAttachment("admin")
	joinRoom(t, a, admin, "")
	viewer := newMockAttachment("viewer")
	joinRoom(t, a, viewer, "")

	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindAdd, From: admin, Element: &canvas.Element{ID: "e1", Shape: "rect"}, Reply: reply})
	require.NoError(t, (<-reply).Err)

	assert.Equal(t, 1, viewer.frameCount(), "the other session should receive the broadcast")
	assert.Equal(t, 0, admin.frameCount(), "the originating session is excluded from its own broadcast")
}

func TestActorDeleteIsIdempotent(t *testing.T) {
	r := canvas.New("room-4")
	a := NewActor(r, nil)
	defer a.Stop()

	admin := newMockAttachment("admin")
	joinRoom(t, a, admin, "")

	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindDelete, From: admin, ID: "does-not-exist", Reply: reply})
	assert.NoError(t, (<-reply).Err)
}

func TestActorLeaveTriggersOnEmpty(t *testing.T) {
	r := canvas.New("room-5")
	emptied := make(chan string, 1)
	a := NewActor(r, func(name string) { emptied <- name })
	defer a.Stop()

	client := newMockAttachment("c1")
	joinRoom(t, a, client, "")

	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindLeave, From: client, Reply: reply})
	<-reply

	select {
	case name := <-emptied:
		assert.Equal(t, "room-5", name)
	case <-time.After(time.Second):
		t.Fatal("onEmpty was not called")
	}
}

func TestActorShapeReleaseOnlyByHolder(t *testing.T) {
	r := canvas.New("room-6")
	a := NewActor(r, nil)
	defer a.Stop()

	owner := newMockAttachment("owner")
	joinRoom(t, a, owner, "")
	other := newMockAttachment("other")
	joinRoom(t, a, other, "")

	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindShapeSelect, From: owner, ID: "e1", Action: "drag", Reply: reply})
	<-reply

	reply2 := make(chan Result, 1)
	a.Send(Command{Kind: KindShapeRelease, From: other, ID: "e1", Reply: reply2})
	<-reply2
	assert.Equal(t, 1, owner.frameCount(), "a release by a non-holder must not be broadcast")

	reply4 := make(chan Result, 1)
	a.Send(Command{Kind: KindShapeRelease, From: owner, ID: "e1", Reply: reply4})
	<-reply4
	assert.Equal(t, 2, other.frameCount(), "the holder's own release is broadcast to the other session")

	reply3 := make(chan Result, 1)
	a.Send(Command{Kind: KindSnapshot, Reply: reply3})
	res := <-reply3
	assert.NotNil(t, res.Snap)
}

func TestActorUpdateMovesElementBetweenLayerIndexes(t *testing.T) {
	r := canvas.New("room-8")
	require.NoError(t, r.AddLayer(&canvas.Layer{ID: "layer_1", Name: "Layer 2", Visible: true}))
	require.NoError(t, r.InsertElement(&canvas.Element{ID: "e1", Shape: "rect", LayerID: "layer_0"}))

	a := NewActor(r, nil)
	defer a.Stop()

	admin := newMockAttachment("admin")
	joinRoom(t, a, admin, "")

	reply := make(chan Result, 1)
	a.Send(Command{
		Kind: KindUpdate, From: admin,
		Partial: map[string]any{"id": "e1", "layerId": "layer_1"},
		Reply:   reply,
	})
	require.NoError(t, (<-reply).Err)

	snapReply := make(chan Result, 1)
	a.Send(Command{Kind: KindSnapshot, Reply: snapReply})
	snap := (<-snapReply).Snap
	require.NotNil(t, snap)

	var layer0, layer1 *canvas.Layer
	for _, l := range snap.Layers {
		switch l.ID {
		case "layer_0":
			layer0 = l
		case "layer_1":
			layer1 = l
		}
	}
	require.NotNil(t, layer0)
	require.NotNil(t, layer1)
	assert.NotContains(t, layer0.Elements, "e1", "old layer must drop the moved element's id")
	assert.Contains(t, layer1.Elements, "e1", "new layer must gain the moved element's id")

	for _, el := range snap.Elements {
		if el.ID == "e1" {
			assert.Equal(t, "layer_1", el.LayerID)
		}
	}
}

func TestActorJoinAssignsStableCursorColor(t *testing.T) {
	r := canvas.New("room-9")
	a := NewActor(r, nil)
	defer a.Stop()

	client := newMockAttachment("c1")
	init := joinRoom(t, a, client, "")
	require.NotEmpty(t, init.Color)

	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindLeave, From: client, Reply: reply})
	<-reply

	rejoined := joinRoom(t, a, client, "")
	assert.Equal(t, init.Color, rejoined.Color, "the same userId must always derive the same color")
}

func TestActorAddBroadcastIncludesOriginatorColor(t *testing.T) {
	r := canvas.New("room-10")
	a := NewActor(r, nil)
	defer a.Stop()

	admin := newMockAttachment("admin")
	adminInit := joinRoom(t, a, admin, "")
	viewer := newMockAttachment("viewer")
	joinRoom(t, a, viewer, "")

	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindAdd, From: admin, Element: &canvas.Element{ID: "e1", Shape: "rect"}, Reply: reply})
	require.NoError(t, (<-reply).Err)

	require.Equal(t, 1, viewer.frameCount())
	assert.Contains(t, string(viewer.frames[0]), `"color":"`+adminInit.Color+`"`)
}

func TestActorStopClosesPendingCommands(t *testing.T) {
	r := canvas.New("room-7")
	a := NewActor(r, nil)
	a.Stop()

	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindJoin, From: newMockAttachment("c1"), Reply: reply})
	res := <-reply
	assert.ErrorIs(t, res.Err, ErrRoomNotFound)
}
