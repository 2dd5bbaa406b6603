package router

import "sync"

// snapshots remembers, per chat, the ids behind the numbered lists the
// router last printed.
type snapshots struct {
	mu        sync.Mutex
	logs      map[int64][]string
	tasks     map[int64][]string
	blocks    map[int64][]string
	trackings map[int64][]string
}

func newSnapshots() *snapshots {
	return &snapshots{
		logs:      make(map[int64][]string),
		tasks:     make(map[int64][]string),
		blocks:    make(map[int64][]string),
		trackings: make(map[int64][]string),
	}
}

func (s *snapshots) set(m map[int64][]string, chatID int64, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		delete(m, chatID)
		return
	}
	m[chatID] = ids
}

func (s *snapshots) get(m map[int64][]string, chatID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m[chatID]
}

// resolve maps a 1-based index into the chat's snapshot, returning the
// id at that position.
func (s *snapshots) resolve(m map[int64][]string, chatID int64, index int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := m[chatID]
	if index < 1 || index > len(ids) {
		return "", false
	}
	return ids[index-1], true
}

func (s *snapshots) remove(m map[int64][]string, chatID int64, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := m[chatID]
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(m, chatID)
		return
	}
	m[chatID] = kept
}

func (s *snapshots) clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, chatID)
	delete(s.tasks, chatID)
	delete(s.blocks, chatID)
	delete(s.trackings, chatID)
}
