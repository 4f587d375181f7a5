package restore

import (
	"sync"

	"github.com/moby/sys/user"
)

// OwnerLookup maps owner names to numeric ids for restore and ids back to
// names for packing. Unknown names resolve to the supplied fallback and
// unknown ids to "".
type OwnerLookup interface {
	UID(name string, fallback int64) int64
	GID(name string, fallback int64) int64
	UserName(uid int64) string
	GroupName(gid int64) string
}

const (
	defaultPasswdPath = "/etc/passwd"
	defaultGroupPath  = "/etc/group"
)

// SystemLookup resolves against passwd/group files and caches every answer,
// including misses.
type SystemLookup struct {
	PasswdPath string
	GroupPath  string

	mu     sync.Mutex
	uids   map[string]int64
	gids   map[string]int64
	unames map[int64]string
	gnames map[int64]string
}

// NewSystemLookup returns a lookup backed by /etc/passwd and /etc/group.
func NewSystemLookup() *SystemLookup {
	return &SystemLookup{
		PasswdPath: defaultPasswdPath,
		GroupPath:  defaultGroupPath,
		uids:       map[string]int64{},
		gids:       map[string]int64{},
		unames:     map[int64]string{},
		gnames:     map[int64]string{},
	}
}

func (s *SystemLookup) UID(name string, fallback int64) int64 {
	if name == "" {
		return fallback
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.uids[name]
	if !ok {
		id = -1
		users, err := user.ParsePasswdFileFilter(s.PasswdPath, func(u user.User) bool { return u.Name == name })
		if err == nil && len(users) > 0 {
			id = int64(users[0].Uid)
		}
		s.uids[name] = id
	}
	if id < 0 {
		return fallback
	}
	return id
}

func (s *SystemLookup) GID(name string, fallback int64) int64 {
	if name == "" {
		return fallback
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.gids[name]
	if !ok {
		id = -1
		groups, err := user.ParseGroupFileFilter(s.GroupPath, func(g user.Group) bool { return g.Name == name })
		if err == nil && len(groups) > 0 {
			id = int64(groups[0].Gid)
		}
		s.gids[name] = id
	}
	if id < 0 {
		return fallback
	}
	return id
}

func (s *SystemLookup) UserName(uid int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.unames[uid]
	if !ok {
		users, err := user.ParsePasswdFileFilter(s.PasswdPath, func(u user.User) bool { return int64(u.Uid) == uid })
		if err == nil && len(users) > 0 {
			name = users[0].Name
		}
		s.unames[uid] = name
	}
	return name
}

func (s *SystemLookup) GroupName(gid int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.gnames[gid]
	if !ok {
		groups, err := user.ParseGroupFileFilter(s.GroupPath, func(g user.Group) bool { return int64(g.Gid) == gid })
		if err == nil && len(groups) > 0 {
			name = groups[0].Name
		}
		s.gnames[gid] = name
	}
	return name
}
