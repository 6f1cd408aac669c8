package room

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"collab-canvas/internal/canvas"
	"collab-canvas/internal/logging"
)

// Store is the persistence dependency the registry needs: load a room from
// disk, flush a final snapshot, and delete its files entirely. Implemented
// by internal/store.
type Store interface {
	Load(name string) (*canvas.Room, bool, error)
	Save(name string, snap canvas.Snapshot) error
	Delete(name string) error
}

// Registry is the process-wide name→actor mapping (C3), grounded on the
// teacher's RoomManager but generalized with per-name creation locks (so
// two sessions racing to join a brand-new room don't both load/create it)
// and grace-period unload scheduling.
type Registry struct {
	store     Store
	idleGrace time.Duration

	mu          sync.Mutex
	actors      map[string]*Actor
	creating    map[string]*sync.Mutex
	unloadTimer map[string]*time.Timer
}

// NewRegistry builds a registry backed by store, unloading idle rooms
// after idleGrace of having zero attached sessions (e.g. 60s).
func NewRegistry(store Store, idleGrace time.Duration) *Registry {
	return &Registry{
		store:       store,
		idleGrace:   idleGrace,
		actors:      make(map[string]*Actor),
		creating:    make(map[string]*sync.Mutex),
		unloadTimer: make(map[string]*time.Timer),
	}
}

// GetOrCreate validates the name, returns a live actor if one exists,
// otherwise loads from disk or creates a fresh default room. Creation is
// serialized per name so two concurrent joins to a brand new room name
// never construct two actors.
func (reg *Registry) GetOrCreate(name string) (*Actor, error) {
	if !canvas.ValidName(name) {
		return nil, canvas.ErrInvalidName
	}

	reg.mu.Lock()
	if a, ok := reg.actors[name]; ok {
		reg.cancelPendingUnloadLocked(name)
		reg.mu.Unlock()
		return a, nil
	}
	lock, ok := reg.creating[name]
	if !ok {
		lock = &sync.Mutex{}
		reg.creating[name] = lock
	}
	reg.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Re-check: another goroutine may have finished creating it while we
	// waited for the per-name lock.
	reg.mu.Lock()
	if a, ok := reg.actors[name]; ok {
		reg.cancelPendingUnloadLocked(name)
		reg.mu.Unlock()
		return a, nil
	}
	reg.mu.Unlock()

	r, found, err := reg.store.Load(name)
	if err != nil {
		logging.Room(name).Warn("snapshot load failed, starting fresh", zap.Error(err))
		found = false
	}
	if !found {
		r = canvas.New(name)
	}

	a := NewActor(r, reg.onActorEmpty)

	reg.mu.Lock()
	reg.actors[name] = a
	delete(reg.creating, name)
	reg.mu.Unlock()

	return a, nil
}

// Lookup returns a live actor without creating one.
func (reg *Registry) Lookup(name string) (*Actor, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	a, ok := reg.actors[name]
	return a, ok
}

// IsLive reports whether name currently has a loaded actor.
func (reg *Registry) IsLive(name string) bool {
	_, ok := reg.Lookup(name)
	return ok
}

// onActorEmpty is called by an actor (off its own goroutine) once its
// session count drops to zero. Schedules an unload after the grace period
// rather than unloading immediately, so a quick reconnect doesn't pay the
// reload cost.
func (reg *Registry) onActorEmpty(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.actors[name]; !ok {
		return
	}
	reg.cancelPendingUnloadLocked(name)
	reg.unloadTimer[name] = time.AfterFunc(reg.idleGrace, func() {
		reg.unload(name)
	})
}

func (reg *Registry) cancelPendingUnloadLocked(name string) {
	if t, ok := reg.unloadTimer[name]; ok {
		t.Stop()
		delete(reg.unloadTimer, name)
	}
}

// unload flushes a final snapshot and drops the actor from the registry.
// Only fires if the room is still empty — a session may have reattached
// during the grace period.
func (reg *Registry) unload(name string) {
	reg.mu.Lock()
	a, ok := reg.actors[name]
	reg.mu.Unlock()
	if !ok {
		return
	}

	reply := make(chan Result, 1)
	a.Send(Command{Kind: KindSnapshot, Reply: reply})
	res := <-reply

	if res.Snap != nil {
		if err := reg.store.Save(name, *res.Snap); err != nil {
			logging.Room(name).Warn("final flush failed on unload", zap.Error(err))
		}
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.unloadTimer, name)
	a.Stop()
	delete(reg.actors, name)
}

// Delete removes a room from the registry (stopping its actor if live)
// and deletes its on-disk files. Used by the retention sweeper (C7) and
// by administrative cleanup.
func (reg *Registry) Delete(name string) error {
	reg.mu.Lock()
	if a, ok := reg.actors[name]; ok {
		reg.cancelPendingUnloadLocked(name)
		a.Stop()
		delete(reg.actors, name)
	}
	reg.mu.Unlock()
	return reg.store.Delete(name)
}

// Names returns every currently-loaded room name, for diagnostics and
// metrics.
func (reg *Registry) Names() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]string, 0, len(reg.actors))
	for name := range reg.actors {
		out = append(out, name)
	}
	return out
}
