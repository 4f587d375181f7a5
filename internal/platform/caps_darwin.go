//go:build darwin

package platform

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/unbox/internal/entry"
)

type darwinCaps struct{ unixCaps }

// Native returns the capabilities of the running platform.
//
//nolint:ireturn // factory returns interface by design
func Native() Capabilities { return darwinCaps{} }

func (darwinCaps) SetBirthtime(string, time.Time) error {
	return fmt.Errorf("birthtime: %w", errors.ErrUnsupported)
}

// ACL reading needs the acl_* library calls, which are not reachable
// without cgo.
func (darwinCaps) ACL(string, bool) (entry.ACLList, error) {
	return nil, fmt.Errorf("acl: %w", errors.ErrUnsupported)
}

func (darwinCaps) SetACL(path string, acl entry.ACLList, _ uint32, _ bool) error {
	if len(acl) == 0 {
		return nil
	}
	return fmt.Errorf("acl %s: %w", path, errors.ErrUnsupported)
}

var darwinFlags = []struct {
	flag uint64
	bsd  uint32
}{
	{entry.FlagImmutable, unix.UF_IMMUTABLE},
	{entry.FlagAppend, unix.UF_APPEND},
	{entry.FlagNoDump, unix.UF_NODUMP},
}

func (darwinCaps) SetFlags(path string, set, clear uint64) error {
	if set == 0 && clear == 0 {
		return nil
	}
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return fmt.Errorf("lstat %s: %w", path, err)
	}
	next := st.Flags
	for _, m := range darwinFlags {
		if set&m.flag != 0 {
			next |= m.bsd
		}
		if clear&m.flag != 0 {
			next &^= m.bsd
		}
	}
	if next == st.Flags {
		return nil
	}
	if err := unix.Chflags(path, int(next)); err != nil {
		return fmt.Errorf("chflags %s: %w", path, err)
	}
	return nil
}
