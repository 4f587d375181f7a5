//go:build linux

package platform

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/unbox/internal/entry"
)

type linuxCaps struct{ unixCaps }

// Native returns the capabilities of the running platform.
//
//nolint:ireturn // factory returns interface by design
func Native() Capabilities { return linuxCaps{} }

func (linuxCaps) SetBirthtime(string, time.Time) error {
	return fmt.Errorf("birthtime: %w", errors.ErrUnsupported)
}

func (linuxCaps) ACL(path string, isDir bool) (entry.ACLList, error) {
	var acl entry.ACLList
	load := func(t entry.ACLType, name string) error {
		blob, err := getXattr(path, name)
		if err != nil {
			if errors.Is(err, unix.ENODATA) {
				return nil
			}
			return xattrErr("getxattr "+name, path, err)
		}
		if len(blob) == 0 {
			return nil
		}
		entries, err := DecodePOSIXACL(t, blob)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, e := range entries {
			if err := acl.Add(e); err != nil {
				return err
			}
		}
		return nil
	}
	if err := load(entry.ACLAccess, XattrPOSIXACLAccess); err != nil {
		return nil, err
	}
	// An access ACL holding only the three mode-derived entries adds nothing.
	if acl.Count(entry.ACLAccess) == 1 && acl[0].Tag == entry.TagMask {
		acl = acl[:0]
	}
	if isDir {
		if err := load(entry.ACLDefault, XattrPOSIXACLDefault); err != nil {
			return nil, err
		}
	}
	return acl, nil
}

func (linuxCaps) SetACL(path string, acl entry.ACLList, mode uint32, isDir bool) error {
	if len(acl) == 0 {
		return nil
	}
	if !acl.POSIX() {
		return fmt.Errorf("nfs4 acl on %s: %w", path, errors.ErrUnsupported)
	}
	var errs []error
	if acl.Count(entry.ACLAccess) > 0 {
		blob, err := EncodePOSIXACL(acl.Entries(entry.ACLAccess, mode))
		if err != nil {
			return err
		}
		if err := unix.Lsetxattr(path, XattrPOSIXACLAccess, blob, 0); err != nil {
			errs = append(errs, xattrErr("set access acl", path, err))
		}
	}
	if isDir && acl.Count(entry.ACLDefault) > 0 {
		blob, err := EncodePOSIXACL(acl.Entries(entry.ACLDefault, mode))
		if err != nil {
			return err
		}
		if err := unix.Lsetxattr(path, XattrPOSIXACLDefault, blob, 0); err != nil {
			errs = append(errs, xattrErr("set default acl", path, err))
		}
	}
	return errors.Join(errs...)
}

// SetFlags applies inode flags via FS_IOC_SETFLAGS. Symlinks cannot carry
// flags on Linux.
func (linuxCaps) SetFlags(path string, set, clear uint64) error {
	if set == 0 && clear == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK|unix.O_NOFOLLOW, 0)
	if err != nil {
		return fmt.Errorf("open for flags %s: %w", path, err)
	}
	defer f.Close()

	fd := int(f.Fd()) //nolint:gosec // G115: fd conversion is safe for file descriptors
	cur, err := unix.IoctlGetInt(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return flagsErr(path, err)
	}
	//nolint:gosec // G115: flag words are 32-bit
	next := (cur | int(set)) &^ int(clear)
	if next == cur {
		return nil
	}
	if err := unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, next); err != nil {
		return flagsErr(path, err)
	}
	return nil
}

func flagsErr(path string, err error) error {
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EPERM) {
		return fmt.Errorf("flags %s: %w (%w)", path, errors.ErrUnsupported, err)
	}
	return fmt.Errorf("flags %s: %w", path, err)
}
