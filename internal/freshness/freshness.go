// Package freshness decides whether previously rendered data is still valid
// without reading the whole buffer again.
//
// A token covers the element count, the resolved address and a digest of a
// short prefix of the data. A mutation confined to bytes past the sampled
// prefix goes undetected; the sample size is configurable for that reason.
// The force-reload path bypasses the cache entirely.
package freshness

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/dshills/debugmate/internal/model"
)

// DefaultSampleBytes is the default prefix length hashed into a token.
const DefaultSampleBytes = 64

// tokenKey is the BLAKE3 key for token digests: "debugmate.fresh" padded
// with zeros.
var tokenKey = [32]byte{
	'd', 'e', 'b', 'u', 'g', 'm', 'a', 't', 'e', '.', 'f', 'r', 'e', 's', 'h',
}

// Digest is a 32-byte keyed BLAKE3 digest.
type Digest [32]byte

// Token fingerprints one read of a variable.
type Token struct {
	Count   int
	Address model.Address
	Digest  Digest
}

// NewToken builds a token from the element count, address and content
// sample. Callers pass at most the configured sample size.
func NewToken(count int, addr model.Address, sample []byte) Token {
	h, err := blake3.NewKeyed(tokenKey[:])
	if err != nil {
		panic("freshness: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(count))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(addr))
	h.Write(hdr[:])
	h.Write(sample)

	var t Token
	t.Count = count
	t.Address = addr
	copy(t.Digest[:], h.Sum(nil))
	return t
}

// Key identifies a cached variable within a session.
type Key struct {
	SessionID string
	Variable  string
}

type entry struct {
	token Token
	step  uint64
}

// Cache maps keys to their last confirmed token.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]entry
	step    uint64
	logger  *slog.Logger
}

// New creates an empty cache. A nil logger discards.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{entries: make(map[Key]entry), logger: logger}
}

// CheckFresh reports whether token matches the stored token for key. A hit
// marks the entry as confirmed at the current step.
func (c *Cache) CheckFresh(key Key, token Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.token != token {
		return false
	}
	e.step = c.step
	c.entries[key] = e
	c.logger.Debug("freshness hit", "session", key.SessionID, "variable", key.Variable, "step", c.step)
	return true
}

// Update stores token for key. Call it only after the data decoded.
func (c *Cache) Update(key Key, token Token) {
	c.mu.Lock()
	c.entries[key] = entry{token: token, step: c.step}
	c.mu.Unlock()
}

// Invalidate drops the entry for key.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// ClearSession drops every entry belonging to sessionID and returns how many
// were removed.
func (c *Cache) ClearSession(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if k.SessionID == sessionID {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// BumpStep advances the global step counter and returns the new value.
func (c *Cache) BumpStep() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step++
	return c.step
}

// Step returns the current step counter.
func (c *Cache) Step() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Stale reports whether key has not been confirmed since the last step
// bump. Unknown keys are stale.
func (c *Cache) Stale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return !ok || e.step < c.step
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
