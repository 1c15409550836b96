// Package clipstore keeps the ordered clip layout of an edit session and the
// per-clip transpose amounts the user has set.
package clipstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cwbudde/algo-pitchedit/segment"
)

// ErrClipNotFound is returned for ids that are not in the current layout.
var ErrClipNotFound = errors.New("clip not found")

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	clips    []segment.Clip
	index    map[int]int
	nextID   int
	preserve bool
}

// Option configures a Store.
type Option func(*Store)

// WithPreservedIDs controls whether Replace carries clip ids over to the
// new layout. When off, replaced layouts are numbered 0..n-1.
func WithPreservedIDs(on bool) Option {
	return func(s *Store) { s.preserve = on }
}

// New creates a store holding a copy of clips.
func New(clips []segment.Clip, opts ...Option) *Store {
	s := &Store{preserve: true}
	for _, opt := range opts {
		opt(s)
	}
	s.set(clone(clips))
	return s
}

// Transpose sets the transpose amount of clip id and returns the updated
// clip. amount is not range checked.
func (s *Store) Transpose(id int, amount float64) (segment.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return segment.Clip{}, fmt.Errorf("%w: %d", ErrClipNotFound, id)
	}
	s.clips[i].Transpose = amount
	return s.clips[i], nil
}

// Get returns clip id.
func (s *Store) Get(id int) (segment.Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return segment.Clip{}, fmt.Errorf("%w: %d", ErrClipNotFound, id)
	}
	return s.clips[i], nil
}

// Snapshot returns a copy of the current clips in time order.
func (s *Store) Snapshot() []segment.Clip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.clips)
}

// Len returns the number of clips.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clips)
}

// Restore puts back a layout previously taken with Snapshot, unchanged.
func (s *Store) Restore(clips []segment.Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(clone(clips))
}

// Replace installs a freshly segmented layout. Transposes stay with the
// time ranges they were set on: a new clip that spans current clips with
// different transposes is cut at their boundaries, and every piece takes the
// transpose of the current clip under it. With preserved ids a piece also
// inherits that clip's id, each current id going to at most one piece, the
// one with the largest overlap; the others get fresh ids. The installed
// layout is returned.
func (s *Store) Replace(next []segment.Clip) []segment.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pieces []segment.Clip
	for _, c := range next {
		pieces = append(pieces, s.split(c)...)
	}
	next = pieces

	if !s.preserve {
		for i := range next {
			next[i].ID = i
		}
		s.set(next)
		return clone(next)
	}

	// Hand out old ids greedily by overlap so the strongest match wins.
	type match struct {
		newIdx, oldIdx int
		overlap        float64
	}
	var matches []match
	for i := range next {
		for j := range s.clips {
			if ov := next[i].Overlap(s.clips[j]); ov > 0 {
				matches = append(matches, match{i, j, ov})
			}
		}
	}
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].overlap > matches[b].overlap })

	assigned := make([]bool, len(next))
	taken := make([]bool, len(s.clips))
	for _, m := range matches {
		if assigned[m.newIdx] || taken[m.oldIdx] {
			continue
		}
		next[m.newIdx].ID = s.clips[m.oldIdx].ID
		assigned[m.newIdx] = true
		taken[m.oldIdx] = true
	}
	for i := range next {
		if !assigned[i] {
			next[i].ID = s.nextID
			s.nextID++
		}
	}
	s.set(next)
	return clone(next)
}

// Revert undoes the transposes that a failed render was attempted with.
// Clips whose transpose still equals the attempted value go back to the
// committed one; clips edited since the attempt keep their newer value.
// attempted and committed must be layouts of the current clip ids.
func (s *Store) Revert(attempted, committed []segment.Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := make(map[int]float64, len(committed))
	for _, c := range committed {
		was[c.ID] = c.Transpose
	}
	for _, a := range attempted {
		i, ok := s.index[a.ID]
		if !ok || s.clips[i].Transpose != a.Transpose {
			continue
		}
		s.clips[i].Transpose = was[a.ID]
	}
}

// split cuts c wherever the current clips under it change transpose. Must be
// called with mu held.
func (s *Store) split(c segment.Clip) []segment.Clip {
	var out []segment.Clip
	cur := c
	have := false
	for _, old := range s.clips {
		if cur.Overlap(old) <= 0 {
			continue
		}
		if !have {
			cur.Transpose = old.Transpose
			have = true
			continue
		}
		if old.Transpose == cur.Transpose {
			continue
		}
		if old.Start <= cur.Start || old.Start >= cur.End {
			continue
		}
		at := min(max(old.StartSample, cur.StartSample), cur.EndSample)
		if cur.EndSample > cur.StartSample && (at == cur.StartSample || at == cur.EndSample) {
			continue
		}
		head, tail := cutAt(cur, old.Start, at)
		out = append(out, head)
		cur = tail
		cur.Transpose = old.Transpose
	}
	return append(out, cur)
}

// cutAt splits c at time t, which falls on sample at.
func cutAt(c segment.Clip, t float64, at int) (segment.Clip, segment.Clip) {
	head, tail := c, c
	head.End, head.EndSample = t, at
	tail.Start, tail.StartSample = t, at
	if k := at - c.StartSample; len(c.Samples) == c.EndSample-c.StartSample {
		head.Samples = c.Samples[:k:k]
		tail.Samples = c.Samples[k:]
	}
	return head, tail
}

// set must be called with mu held.
func (s *Store) set(clips []segment.Clip) {
	s.clips = clips
	s.index = make(map[int]int, len(clips))
	for i, c := range clips {
		s.index[c.ID] = i
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
	}
}

func clone(clips []segment.Clip) []segment.Clip {
	out := make([]segment.Clip, len(clips))
	copy(out, clips)
	return out
}
