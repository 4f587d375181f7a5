package filter

import (
	"strconv"
	"strings"
	"time"

	"github.com/bamsammich/unbox/internal/entry"
)

// Rule represents a single include or exclude filter rule.
type Rule struct {
	Pattern *compiledPattern
	Include bool // true=include, false=exclude
}

// Chain holds an ordered list of filter rules plus size, time and owner filters.
type Chain struct {
	rules         []Rule
	minSize       int64
	maxSize       int64
	newerThan     time.Time
	olderThan     time.Time
	excludeUsers  map[string]struct{}
	excludeGroups map[string]struct{}
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude adds an exclude rule for the given pattern.
func (c *Chain) AddExclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: false})
	return nil
}

// AddInclude adds an include rule for the given pattern.
func (c *Chain) AddInclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: true})
	return nil
}

// SetMinSize sets the minimum file size filter.
func (c *Chain) SetMinSize(n int64) {
	c.minSize = n
}

// SetMaxSize sets the maximum file size filter.
func (c *Chain) SetMaxSize(n int64) {
	c.maxSize = n
}

// SetNewerThan drops entries whose mtime is not after t.
func (c *Chain) SetNewerThan(t time.Time) {
	c.newerThan = t
}

// SetOlderThan drops entries whose mtime is not before t.
func (c *Chain) SetOlderThan(t time.Time) {
	c.olderThan = t
}

// ExcludeUser drops entries owned by the named user. A decimal string
// matches the numeric uid.
func (c *Chain) ExcludeUser(name string) {
	if c.excludeUsers == nil {
		c.excludeUsers = make(map[string]struct{})
	}
	c.excludeUsers[name] = struct{}{}
}

// ExcludeGroup drops entries owned by the named group. A decimal string
// matches the numeric gid.
func (c *Chain) ExcludeGroup(name string) {
	if c.excludeGroups == nil {
		c.excludeGroups = make(map[string]struct{})
	}
	c.excludeGroups[name] = struct{}{}
}

// Empty reports whether the chain has no rules and no size, time or owner filters.
func (c *Chain) Empty() bool {
	return len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0 &&
		c.newerThan.IsZero() && c.olderThan.IsZero() &&
		len(c.excludeUsers) == 0 && len(c.excludeGroups) == 0
}

// Match returns true if the path should be INCLUDED (not filtered out).
// relPath is relative to the archive root, isDir indicates directories,
// and size is the file size (ignored for directories).
func (c *Chain) Match(relPath string, isDir bool, size int64) bool {
	// Size filters apply only to regular files.
	if !isDir && !c.matchSize(size) {
		return false
	}
	return c.matchRules(relPath, isDir)
}

// MatchEntry applies the whole chain to an archive entry. Size limits only
// apply to regular files whose size is known; time bounds are ignored when
// the entry carries no mtime.
func (c *Chain) MatchEntry(e *entry.Entry) bool {
	if !c.matchOwner(e) || !c.matchTime(e.Mtime) {
		return false
	}
	if e.Type == entry.Regular && e.SizeKnown() && !c.matchSize(e.Size()) {
		return false
	}
	return c.matchRules(normalize(e.Path), e.Type == entry.Dir)
}

func (c *Chain) matchSize(size int64) bool {
	if c.minSize > 0 && size < c.minSize {
		return false
	}
	return c.maxSize <= 0 || size <= c.maxSize
}

func (c *Chain) matchRules(relPath string, isDir bool) bool {
	// First match wins.
	for _, rule := range c.rules {
		if rule.Pattern.match(relPath, isDir) {
			return rule.Include
		}
	}
	return true
}

func (c *Chain) matchTime(mtime time.Time) bool {
	if mtime.IsZero() {
		return true
	}
	if !c.newerThan.IsZero() && !mtime.After(c.newerThan) {
		return false
	}
	if !c.olderThan.IsZero() && !mtime.Before(c.olderThan) {
		return false
	}
	return true
}

func (c *Chain) matchOwner(e *entry.Entry) bool {
	if excluded(c.excludeUsers, e.Uname, e.UID) {
		return false
	}
	return !excluded(c.excludeGroups, e.Gname, e.GID)
}

func excluded(set map[string]struct{}, name string, id int64) bool {
	if len(set) == 0 {
		return false
	}
	if name != "" {
		if _, ok := set[name]; ok {
			return true
		}
	}
	_, ok := set[strconv.FormatInt(id, 10)]
	return ok
}

// normalize turns an archive path into the relative form patterns match against.
func normalize(p string) string {
	for {
		switch {
		case strings.HasPrefix(p, "./"):
			p = p[2:]
		case strings.HasPrefix(p, "/"):
			p = p[1:]
		default:
			return strings.TrimRight(p, "/")
		}
	}
}
