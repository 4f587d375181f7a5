package platform

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/bamsammich/unbox/internal/entry"
)

// Linux stores POSIX.1e ACLs in the system.posix_acl_access and
// system.posix_acl_default extended attributes using this layout.
const (
	posixACLVersion   = 2
	posixACLUndefined = 0xFFFFFFFF

	aclTagUserObj  = 0x01
	aclTagUser     = 0x02
	aclTagGroupObj = 0x04
	aclTagGroup    = 0x08
	aclTagMask     = 0x10
	aclTagOther    = 0x20

	XattrPOSIXACLAccess  = "system.posix_acl_access"
	XattrPOSIXACLDefault = "system.posix_acl_default"
)

var errBadACLBlob = errors.New("malformed posix acl xattr")

var tagToWire = map[entry.ACLTag]uint16{
	entry.TagUserObj:  aclTagUserObj,
	entry.TagUser:     aclTagUser,
	entry.TagGroupObj: aclTagGroupObj,
	entry.TagGroup:    aclTagGroup,
	entry.TagMask:     aclTagMask,
	entry.TagOther:    aclTagOther,
}

type wireACE struct {
	tag  uint16
	perm uint16
	id   uint32
}

// EncodePOSIXACL serializes a complete POSIX ACL (including the owner,
// owning group and other entries) into the Linux xattr layout. A mask entry
// is computed when named entries are present without one.
func EncodePOSIXACL(entries []entry.ACLEntry) ([]byte, error) {
	aces := make([]wireACE, 0, len(entries)+1)
	hasMask, hasNamed := false, false
	var groupClass uint16
	for _, e := range entries {
		tag, ok := tagToWire[e.Tag]
		if !ok {
			return nil, fmt.Errorf("%w: tag %s", errBadACLBlob, e.Tag)
		}
		id := uint32(posixACLUndefined)
		if tag == aclTagUser || tag == aclTagGroup {
			if e.ID < 0 {
				return nil, fmt.Errorf("%w: unresolved id for %q", errBadACLBlob, e.Name)
			}
			id = uint32(e.ID) //nolint:gosec // G115: ids are validated non-negative
			hasNamed = true
		}
		perm := uint16(e.Perm & 7) //nolint:gosec // G115: masked to 3 bits
		switch tag {
		case aclTagMask:
			hasMask = true
		case aclTagUser, aclTagGroup, aclTagGroupObj:
			groupClass |= perm
		}
		aces = append(aces, wireACE{tag: tag, perm: perm, id: id})
	}
	if hasNamed && !hasMask {
		aces = append(aces, wireACE{tag: aclTagMask, perm: groupClass, id: posixACLUndefined})
	}
	slices.SortStableFunc(aces, func(a, b wireACE) int {
		if c := cmp.Compare(a.tag, b.tag); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	buf := make([]byte, 4+8*len(aces))
	binary.LittleEndian.PutUint32(buf, posixACLVersion)
	for i, a := range aces {
		off := 4 + 8*i
		binary.LittleEndian.PutUint16(buf[off:], a.tag)
		binary.LittleEndian.PutUint16(buf[off+2:], a.perm)
		binary.LittleEndian.PutUint32(buf[off+4:], a.id)
	}
	return buf, nil
}

// DecodePOSIXACL parses the Linux xattr layout into entries of type t.
func DecodePOSIXACL(t entry.ACLType, blob []byte) ([]entry.ACLEntry, error) {
	if len(blob) < 4 || (len(blob)-4)%8 != 0 {
		return nil, fmt.Errorf("%w: length %d", errBadACLBlob, len(blob))
	}
	if v := binary.LittleEndian.Uint32(blob); v != posixACLVersion {
		return nil, fmt.Errorf("%w: version %d", errBadACLBlob, v)
	}
	n := (len(blob) - 4) / 8
	out := make([]entry.ACLEntry, 0, n)
	for i := range n {
		off := 4 + 8*i
		tag := binary.LittleEndian.Uint16(blob[off:])
		ent := entry.ACLEntry{
			Type: t,
			Perm: uint32(binary.LittleEndian.Uint16(blob[off+2:])),
			ID:   -1,
		}
		switch tag {
		case aclTagUserObj:
			ent.Tag = entry.TagUserObj
		case aclTagUser:
			ent.Tag = entry.TagUser
		case aclTagGroupObj:
			ent.Tag = entry.TagGroupObj
		case aclTagGroup:
			ent.Tag = entry.TagGroup
		case aclTagMask:
			ent.Tag = entry.TagMask
		case aclTagOther:
			ent.Tag = entry.TagOther
		default:
			return nil, fmt.Errorf("%w: tag 0x%x", errBadACLBlob, tag)
		}
		if ent.Tag == entry.TagUser || ent.Tag == entry.TagGroup {
			ent.ID = int64(binary.LittleEndian.Uint32(blob[off+4:]))
		}
		out = append(out, ent)
	}
	return out, nil
}
