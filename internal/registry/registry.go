package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrRejected           = errors.New("registry: max clients reached")
	ErrUnknownReservation = errors.New("registry: unknown reservation")
	ErrInvalidCap         = errors.New("registry: invalid cap")
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// ClientRecord is the observed state of one accepted connection.
type ClientRecord struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Status      Status    `json:"status"`
}

func (r ClientRecord) Connected() bool {
	return r.Status == StatusConnected
}

// Reservation holds an admission slot between accept and handshake.
type Reservation struct {
	ID   uint64
	Addr string
}

// Registry is the process-wide client table. Pending reservations count
// against the cap so the accept-time check and the later insert cannot be
// raced past the bound.
type Registry struct {
	mu        sync.Mutex
	records   map[uint64]*ClientRecord
	pending   map[uint64]Reservation
	connected int
	nextID    uint64
	limit     int
	now       func() time.Time
}

func New(maxClients int) (*Registry, error) {
	return NewWithClock(maxClients, time.Now)
}

func NewWithClock(maxClients int, now func() time.Time) (*Registry, error) {
	if maxClients <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCap, maxClients)
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		records: make(map[uint64]*ClientRecord),
		pending: make(map[uint64]Reservation),
		nextID:  1,
		limit:   maxClients,
		now:     now,
	}, nil
}

func (r *Registry) Cap() int {
	return r.limit
}

// Active returns the number of connected records plus pending reservations.
// Pending handshakes hold a slot but have no record in Snapshot until Admit.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected + len(r.pending)
}

// Pending returns the number of reservations still waiting for a name.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reserve allocates the next id and a slot, or returns ErrRejected without
// mutating anything when the cap is reached.
func (r *Registry) Reserve(addr string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserveLocked(addr)
}

// Admit turns a pending reservation into a connected record.
func (r *Registry) Admit(res Reservation, name string) (ClientRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admitLocked(res, name)
}

// Release drops a reservation that never reached Admit.
func (r *Registry) Release(res Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, res.ID)
}

// TryAdmit checks the cap and inserts a connected record in one step. The
// server admits through Reserve and Admit so the cap is decided at accept
// time; TryAdmit serves callers that already hold the client's name.
func (r *Registry) TryAdmit(name, addr string) (ClientRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.reserveLocked(addr)
	if err != nil {
		return ClientRecord{}, err
	}
	return r.admitLocked(res, name)
}

// MarkDisconnected stamps the finish time once; later calls are no-ops.
func (r *Registry) MarkDisconnected(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status == StatusDisconnected {
		return
	}
	rec.FinishedAt = r.now()
	rec.Status = StatusDisconnected
	r.connected--
}

// Snapshot returns a copy of every record ordered by id.
func (r *Registry) Snapshot() []ClientRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one record.
func (r *Registry) Get(id uint64) (ClientRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ClientRecord{}, false
	}
	return *rec, true
}

func (r *Registry) reserveLocked(addr string) (Reservation, error) {
	if r.connected+len(r.pending) >= r.limit {
		return Reservation{}, ErrRejected
	}
	res := Reservation{ID: r.nextID, Addr: addr}
	r.nextID++
	r.pending[res.ID] = res
	return res, nil
}

func (r *Registry) admitLocked(res Reservation, name string) (ClientRecord, error) {
	held, ok := r.pending[res.ID]
	if !ok {
		return ClientRecord{}, fmt.Errorf("%w: id=%d", ErrUnknownReservation, res.ID)
	}
	delete(r.pending, res.ID)
	rec := &ClientRecord{
		ID:          held.ID,
		Name:        name,
		Addr:        held.Addr,
		ConnectedAt: r.now(),
		Status:      StatusConnected,
	}
	r.records[rec.ID] = rec
	r.connected++
	return *rec, nil
}
