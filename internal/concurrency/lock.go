package concurrency

import "sync"

// ChatLockManager serializes processing per chat so one chat's updates are
// handled in order while distinct chats proceed concurrently.
type ChatLockManager struct {
	locks map[int64]*sync.Mutex
	mu    sync.Mutex
}

func NewChatLockManager() *ChatLockManager {
	return &ChatLockManager{
		locks: make(map[int64]*sync.Mutex),
	}
}

func (m *ChatLockManager) Lock(chatID int64) {
	m.mu.Lock()
	lock, ok := m.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[chatID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
}

func (m *ChatLockManager) Unlock(chatID int64) {
	m.mu.Lock()
	lock, ok := m.locks[chatID]
	if ok {
		lock.Unlock()
	}
	m.mu.Unlock()
}
