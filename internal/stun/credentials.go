package stun

import "sync"

// CredentialStore looks up short-term credential passwords by username
// fragment.
type CredentialStore interface {
	GetPassword(username string) (string, bool)
}

// MemoryCredentials is an in-memory CredentialStore safe for concurrent use.
type MemoryCredentials struct {
	mu    sync.RWMutex
	users map[string]string
}

func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{users: make(map[string]string)}
}

// AddUser registers or replaces the password for name.
func (c *MemoryCredentials) AddUser(name, password string) {
	c.mu.Lock()
	c.users[name] = password
	c.mu.Unlock()
}

// RemoveUser forgets name.
func (c *MemoryCredentials) RemoveUser(name string) {
	c.mu.Lock()
	delete(c.users, name)
	c.mu.Unlock()
}

func (c *MemoryCredentials) GetPassword(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pwd, ok := c.users[name]
	return pwd, ok
}

func (c *MemoryCredentials) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}
