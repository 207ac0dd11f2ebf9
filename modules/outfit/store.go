package outfit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps per-session state: the selected source image, the current batch,
// and the busy/generating flags. Acquire/Begin calls are atomic so they double
// as locks.
type Store interface {
	CreateSession(ctx context.Context) (string, error)

	// SetSource replaces the source image and discards the current batch.
	SetSource(ctx context.Context, sessionID string, source SourceImage) error
	// Source returns nil when no image has been selected yet.
	Source(ctx context.Context, sessionID string) (*SourceImage, error)

	// BeginGeneration sets the generating flag and empties the batch. It
	// returns false if a generation is already running.
	BeginGeneration(ctx context.Context, sessionID string) (bool, error)
	// FinishGeneration stores batch (possibly empty) and clears the flag.
	FinishGeneration(ctx context.Context, sessionID string, batch Batch) error

	Batch(ctx context.Context, sessionID string) (Batch, error)
	Outfit(ctx context.Context, sessionID, outfitID string) (Outfit, error)

	// AcquireOutfit sets the busy flag. If the outfit is already busy it
	// returns the outfit unchanged and false.
	AcquireOutfit(ctx context.Context, sessionID, outfitID string) (Outfit, bool, error)
	// ReleaseOutfit clears the busy flag and, when imageBase64 is non-nil,
	// replaces the image.
	ReleaseOutfit(ctx context.Context, sessionID, outfitID string, imageBase64 *string) (Outfit, error)
}

type memorySession struct {
	source       *SourceImage
	outfits      []*Outfit
	generating   bool
	createdAt    time.Time
	lastActivity time.Time
}

// MemoryStore is the default single-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := s.now()
	s.sessions[id] = &memorySession{createdAt: now, lastActivity: now}
	return id, nil
}

// session must be called with s.mu held.
func (s *MemoryStore) session(sessionID string) (*memorySession, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastActivity = s.now()
	return sess, nil
}

func (s *MemoryStore) SetSource(ctx context.Context, sessionID string, source SourceImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	if sess.generating {
		return ErrGenerationInProgress
	}
	src := source
	sess.source = &src
	sess.outfits = nil
	return nil
}

func (s *MemoryStore) Source(ctx context.Context, sessionID string) (*SourceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.source == nil {
		return nil, nil
	}
	src := *sess.source
	return &src, nil
}

func (s *MemoryStore) BeginGeneration(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return false, err
	}
	if sess.generating {
		return false, nil
	}
	sess.generating = true
	sess.outfits = nil
	return true, nil
}

func (s *MemoryStore) FinishGeneration(ctx context.Context, sessionID string, batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	outfits := make([]*Outfit, 0, len(batch))
	for _, o := range batch {
		o := o
		o.Busy = false
		outfits = append(outfits, &o)
	}
	sess.outfits = outfits
	sess.generating = false
	return nil
}

func (s *MemoryStore) Batch(ctx context.Context, sessionID string) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	batch := make(Batch, 0, len(sess.outfits))
	for _, o := range sess.outfits {
		batch = append(batch, *o)
	}
	return batch, nil
}

// find must be called with s.mu held.
func (s *MemoryStore) find(sessionID, outfitID string) (*Outfit, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	for _, o := range sess.outfits {
		if o.ID == outfitID {
			return o, nil
		}
	}
	return nil, ErrOutfitNotFound
}

func (s *MemoryStore) Outfit(ctx context.Context, sessionID, outfitID string) (Outfit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.find(sessionID, outfitID)
	if err != nil {
		return Outfit{}, err
	}
	return *o, nil
}

func (s *MemoryStore) AcquireOutfit(ctx context.Context, sessionID, outfitID string) (Outfit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.find(sessionID, outfitID)
	if err != nil {
		return Outfit{}, false, err
	}
	if o.Busy {
		return *o, false, nil
	}
	o.Busy = true
	return *o, true, nil
}

func (s *MemoryStore) ReleaseOutfit(ctx context.Context, sessionID, outfitID string, imageBase64 *string) (Outfit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.find(sessionID, outfitID)
	if err != nil {
		return Outfit{}, err
	}
	if imageBase64 != nil {
		o.ImageBase64 = *imageBase64
	}
	o.Busy = false
	return *o, nil
}

// SessionCount reports live sessions for /metrics.
func (s *MemoryStore) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Cleanup drops sessions idle for longer than ttl and returns how many were removed.
func (s *MemoryStore) Cleanup(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastActivity) > ttl {
			delete(s.sessions, id)
			cleaned++
		}
	}
	return cleaned
}

// StartCleanupRoutine sweeps expired sessions every interval until ctx is done.
func (s *MemoryStore) StartCleanupRoutine(ctx context.Context, ttl, interval time.Duration, onCleanup func(int)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Cleanup(ttl); n > 0 && onCleanup != nil {
					onCleanup(n)
				}
			}
		}
	}()
}
