package server

import (
	"sort"
	"sync"
	"time"
)

// RoomInfo is the read-only view of a room exposed on the admin surface.
type RoomInfo struct {
	Name          string    `json:"name"`
	Members       int       `json:"members"`
	FramesRelayed uint64    `json:"frames_relayed"`
	CreatedAt     time.Time `json:"created_at"`
}

type directoryEntry struct {
	owner *Room
	info  RoomInfo
}

// Directory publishes room state for observers. Rooms write their own entry;
// nothing in the chat path ever reads it.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*directoryEntry
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*directoryEntry)}
}

func (d *Directory) register(owner *Room, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[name] = &directoryEntry{
		owner: owner,
		info:  RoomInfo{Name: name, CreatedAt: time.Now().UTC()},
	}
}

// update applies fn to the entry only while owner still holds the name, so a
// retired room cannot clobber its successor.
func (d *Directory) update(owner *Room, name string, fn func(*RoomInfo)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.rooms[name]; ok && entry.owner == owner {
		fn(&entry.info)
	}
}

func (d *Directory) remove(owner *Room, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.rooms[name]; ok && entry.owner == owner {
		delete(d.rooms, name)
	}
}

// Snapshot returns every room sorted by name.
func (d *Directory) Snapshot() []RoomInfo {
	d.mu.RLock()
	rooms := make([]RoomInfo, 0, len(d.rooms))
	for _, entry := range d.rooms {
		rooms = append(rooms, entry.info)
	}
	d.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}

// Lookup returns the entry for name.
func (d *Directory) Lookup(name string) (RoomInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.rooms[name]
	if !ok {
		return RoomInfo{}, false
	}
	return entry.info, true
}
