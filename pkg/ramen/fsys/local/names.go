package local

import (
	"os/user"
	"strconv"
	"sync"
)

// idNames caches uid and gid name lookups. Each lookup reads the passwd or
// group database, so every id is resolved once per adapter.
type idNames struct {
	mu     sync.Mutex
	users  map[uint32]string
	groups map[uint32]string

	lookupUser  func(id string) (string, error)
	lookupGroup func(id string) (string, error)
}

func newIDNames() *idNames {
	return &idNames{
		users:  make(map[uint32]string),
		groups: make(map[uint32]string),
		lookupUser: func(id string) (string, error) {
			u, err := user.LookupId(id)
			if err != nil {
				return "", err
			}
			return u.Username, nil
		},
		lookupGroup: func(id string) (string, error) {
			g, err := user.LookupGroupId(id)
			if err != nil {
				return "", err
			}
			return g.Name, nil
		},
	}
}

// user returns the name for uid, or the numeric id when it has none.
func (n *idNames) user(uid uint32) string {
	return n.resolve(n.users, n.lookupUser, uid)
}

// group returns the name for gid, or the numeric id when it has none.
func (n *idNames) group(gid uint32) string {
	return n.resolve(n.groups, n.lookupGroup, gid)
}

func (n *idNames) resolve(cache map[uint32]string, lookup func(string) (string, error), id uint32) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if name, ok := cache[id]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(id), 10)
	if resolved, err := lookup(name); err == nil {
		name = resolved
	}
	cache[id] = name
	return name
}
