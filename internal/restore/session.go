package restore

import (
	"sync"

	"github.com/bamsammich/unbox/internal/platform"
)

// Session owns the process umask for one extraction. The mask is cleared
// when the session begins so creation modes are final, and put back exactly
// once by End. Only one session may be active per process.
type Session struct {
	caps  platform.Capabilities
	saved int
	once  sync.Once
}

// BeginSession clears the umask and remembers the previous value.
func BeginSession(caps platform.Capabilities) *Session {
	return &Session{caps: caps, saved: caps.Umask(0)}
}

// Umask returns the mask that was in effect before the session began.
//
//nolint:gosec // G115: umask values fit in 12 bits
func (s *Session) Umask() uint32 { return uint32(s.saved) }

// End restores the saved umask. Later calls do nothing.
func (s *Session) End() {
	s.once.Do(func() { s.caps.Umask(s.saved) })
}
