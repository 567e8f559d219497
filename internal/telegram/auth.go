package telegram

import "sync"

// Authorizer holds the set of user ids allowed to use the bot. The set can
// be swapped while the bot runs.
type Authorizer struct {
	mu    sync.RWMutex
	users map[int64]struct{}
}

func NewAuthorizer(ids []int64) *Authorizer {
	a := &Authorizer{}
	a.Replace(ids)
	return a
}

// Allowed reports whether id is authorized.
func (a *Authorizer) Allowed(id int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.users[id]
	return ok
}

// Replace swaps the authorized set.
func (a *Authorizer) Replace(ids []int64) {
	users := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		users[id] = struct{}{}
	}
	a.mu.Lock()
	a.users = users
	a.mu.Unlock()
	tgLog.Info("authorized_users_set", "count", len(users))
}

// Count returns the number of authorized users.
func (a *Authorizer) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}
