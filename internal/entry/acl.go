package entry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ACLType distinguishes POSIX.1e (access, default) from NFSv4 entries.
type ACLType int

const (
	ACLAccess ACLType = iota + 1
	ACLDefault
	ACLAllow
	ACLDeny
	ACLAudit
	ACLAlarm
)

// POSIX reports whether t is a POSIX.1e ACL type.
func (t ACLType) POSIX() bool { return t == ACLAccess || t == ACLDefault }

func (t ACLType) String() string {
	switch t {
	case ACLAccess:
		return "access"
	case ACLDefault:
		return "default"
	case ACLAllow:
		return "allow"
	case ACLDeny:
		return "deny"
	case ACLAudit:
		return "audit"
	case ACLAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

// ACLTag names who an ACL entry applies to.
type ACLTag int

const (
	TagUser ACLTag = iota + 1
	TagGroup
	TagUserObj
	TagGroupObj
	TagMask
	TagOther
	TagEveryone
)

func (t ACLTag) String() string {
	switch t {
	case TagUser, TagUserObj:
		return "user"
	case TagGroup, TagGroupObj:
		return "group"
	case TagMask:
		return "mask"
	case TagOther:
		return "other"
	case TagEveryone:
		return "everyone@"
	default:
		return "unknown"
	}
}

// Permission bits. POSIX entries use only read/write/execute.
const (
	PermExecute uint32 = 0o1
	PermWrite   uint32 = 0o2
	PermRead    uint32 = 0o4
)

// ACLEntry is one access control entry.
type ACLEntry struct {
	Type    ACLType
	Tag     ACLTag
	ID      int64
	Name    string
	Perm    uint32
	Inherit uint32
}

// ACLList is an ordered list of ACL entries of a single family.
type ACLList []ACLEntry

var (
	ErrACLMixed   = errors.New("cannot mix POSIX and NFSv4 ACL entries")
	ErrACLInvalid = errors.New("invalid ACL entry")
)

// Add appends ent after validating that it belongs to the same family as
// the entries already present. Owner, owning group and other access entries
// are not stored; they are synthesized from the mode.
func (l *ACLList) Add(ent ACLEntry) error {
	if ent.Type < ACLAccess || ent.Type > ACLAlarm || ent.Tag < TagUser || ent.Tag > TagEveryone {
		return fmt.Errorf("%w: type %d tag %d", ErrACLInvalid, ent.Type, ent.Tag)
	}
	if ent.Type.POSIX() && ent.Tag == TagEveryone {
		return fmt.Errorf("%w: everyone@ in POSIX ACL", ErrACLInvalid)
	}
	if len(*l) > 0 && (*l)[0].Type.POSIX() != ent.Type.POSIX() {
		return ErrACLMixed
	}
	if ent.Type == ACLAccess && isObjTag(ent.Tag) {
		return nil
	}
	*l = append(*l, ent)
	return nil
}

func isObjTag(t ACLTag) bool {
	return t == TagUserObj || t == TagGroupObj || t == TagOther
}

// POSIX reports whether the list holds POSIX.1e entries. An empty list
// reports false.
func (l ACLList) POSIX() bool { return len(l) > 0 && l[0].Type.POSIX() }

// Count returns the number of stored entries of type t.
func (l ACLList) Count(t ACLType) int {
	n := 0
	for _, e := range l {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Entries returns the entries of type t. For access ACLs with at least one
// extended entry, the owner, owning group and other entries are synthesized
// from mode and placed first.
func (l ACLList) Entries(t ACLType, mode uint32) []ACLEntry {
	var out []ACLEntry
	if t == ACLAccess && l.Count(ACLAccess) > 0 {
		out = append(out,
			ACLEntry{Type: ACLAccess, Tag: TagUserObj, ID: -1, Perm: (mode >> 6) & 7},
			ACLEntry{Type: ACLAccess, Tag: TagGroupObj, ID: -1, Perm: (mode >> 3) & 7},
			ACLEntry{Type: ACLAccess, Tag: TagOther, ID: -1, Perm: mode & 7},
		)
	}
	for _, e := range l {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Text renders the entries of type t in POSIX.1e long text form with a
// trailing numeric id for named entries, as used in PAX headers.
func (l ACLList) Text(t ACLType, mode uint32) string {
	entries := l.Entries(t, mode)
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		qualifier := ""
		suffix := ""
		if e.Tag == TagUser || e.Tag == TagGroup {
			qualifier = e.Name
			if qualifier == "" {
				qualifier = strconv.FormatInt(e.ID, 10)
			}
			suffix = ":" + strconv.FormatInt(e.ID, 10)
		}
		parts = append(parts, e.Tag.String()+":"+qualifier+":"+permString(e.Perm)+suffix)
	}
	return strings.Join(parts, ",")
}

func permString(p uint32) string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// ParseText parses POSIX.1e long text form (comma or newline separated)
// into l. Owner, owning group and other entries are validated but not
// stored.
func (l *ACLList) ParseText(t ACLType, text string) error {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' })
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if i := strings.IndexByte(f, '#'); i >= 0 {
			f = strings.TrimSpace(f[:i])
		}
		if f == "" {
			continue
		}
		ent, err := parseACLField(t, f)
		if err != nil {
			return err
		}
		if err := l.Add(ent); err != nil {
			return err
		}
	}
	return nil
}

func parseACLField(t ACLType, f string) (ACLEntry, error) {
	parts := strings.Split(f, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return ACLEntry{}, fmt.Errorf("%w: %q", ErrACLInvalid, f)
	}
	ent := ACLEntry{Type: t, ID: -1}
	qualifier := parts[1]
	switch parts[0] {
	case "user", "u":
		ent.Tag = TagUser
		if qualifier == "" {
			ent.Tag = TagUserObj
		}
	case "group", "g":
		ent.Tag = TagGroup
		if qualifier == "" {
			ent.Tag = TagGroupObj
		}
	case "mask", "m":
		ent.Tag = TagMask
	case "other", "o":
		ent.Tag = TagOther
	default:
		return ACLEntry{}, fmt.Errorf("%w: tag %q", ErrACLInvalid, parts[0])
	}
	perm, err := parsePerm(parts[2])
	if err != nil {
		return ACLEntry{}, fmt.Errorf("%w: %q", err, f)
	}
	ent.Perm = perm
	if ent.Tag == TagUser || ent.Tag == TagGroup {
		if id, err := strconv.ParseInt(qualifier, 10, 64); err == nil {
			ent.ID = id
		} else {
			ent.Name = qualifier
		}
		if len(parts) == 4 {
			id, err := strconv.ParseInt(parts[3], 10, 64)
			if err != nil {
				return ACLEntry{}, fmt.Errorf("%w: id %q", ErrACLInvalid, parts[3])
			}
			ent.ID = id
		}
	}
	return ent, nil
}

func parsePerm(s string) (uint32, error) {
	var p uint32
	for _, c := range s {
		switch c {
		case 'r':
			p |= PermRead
		case 'w':
			p |= PermWrite
		case 'x':
			p |= PermExecute
		case '-':
		default:
			return 0, fmt.Errorf("%w: perm %q", ErrACLInvalid, s)
		}
	}
	return p, nil
}
