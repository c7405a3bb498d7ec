package httpx

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"
)

type bufferingResponseWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *bufferingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *bufferingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

// MemoryIdempotencyStore keeps keys in process memory. Suitable for tests
// and single-instance deployments; multi-instance services use the
// pg-backed store so retries hitting another instance still replay.
type MemoryIdempotencyStore struct {
	mu        sync.Mutex
	entries   map[string]*idemEntry
	retention time.Duration
}

type idemEntry struct {
	rec       IdempotencyRecord
	done      bool
	claimedAt time.Time
}

func NewMemoryIdempotencyStore(retention time.Duration) *MemoryIdempotencyStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryIdempotencyStore{
		entries:   map[string]*idemEntry{},
		retention: retention,
	}
}

func (s *MemoryIdempotencyStore) Claim(_ context.Context, scope, key string) (IdempotencyRecord, IdempotencyOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scope + "\x00" + key
	e, ok := s.entries[k]
	if ok && time.Since(e.claimedAt) > s.retention {
		delete(s.entries, k)
		ok = false
	}
	if !ok {
		s.entries[k] = &idemEntry{claimedAt: time.Now()}
		return IdempotencyRecord{}, IdemFresh, nil
	}
	if e.done {
		return e.rec, IdemReplay, nil
	}
	return IdempotencyRecord{}, IdemInFlight, nil
}

func (s *MemoryIdempotencyStore) Finalize(_ context.Context, scope, key string, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[scope+"\x00"+key]; ok {
		e.rec = rec
		e.done = true
	}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, scope+"\x00"+key)
	return nil
}
