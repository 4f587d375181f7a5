package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// LoadFile reads filter rules from a file and appends them to the chain.
// See Load for the syntax.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()
	return c.Load(f, path, time.Now())
}

// Load reads one rule per line. A line "+ PATTERN" includes and "- PATTERN"
// or a bare PATTERN excludes. A lone "!" drops the rules read so far. The
// remaining forms mirror the command-line flags of the same name:
//
//	min-size SIZE
//	max-size SIZE
//	newer TIME
//	older TIME
//	exclude-user NAME
//	exclude-group NAME
//
// Blank lines and lines starting with "#" are skipped. name labels errors.
func (c *Chain) Load(r io.Reader, name string, now time.Time) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := c.applyLine(line, now); err != nil {
			return fmt.Errorf("filter file %s line %d: %w", name, lineNum, err)
		}
	}
	return scanner.Err()
}

func (c *Chain) applyLine(line string, now time.Time) error {
	switch {
	case line == "!":
		c.rules = nil
		return nil
	case strings.HasPrefix(line, "+ "):
		return c.AddInclude(strings.TrimSpace(line[2:]))
	case strings.HasPrefix(line, "- "):
		return c.AddExclude(strings.TrimSpace(line[2:]))
	}

	keyword, arg, found := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	if found && arg != "" {
		switch keyword {
		case "min-size", "max-size":
			n, err := ParseSize(arg)
			if err != nil {
				return err
			}
			if keyword == "min-size" {
				c.SetMinSize(n)
			} else {
				c.SetMaxSize(n)
			}
			return nil
		case "newer", "older":
			t, err := ParseTime(arg, now)
			if err != nil {
				return err
			}
			if keyword == "newer" {
				c.SetNewerThan(t)
			} else {
				c.SetOlderThan(t)
			}
			return nil
		case "exclude-user":
			c.ExcludeUser(arg)
			return nil
		case "exclude-group":
			c.ExcludeGroup(arg)
			return nil
		}
	}
	// No prefix: exclude, as rsync does.
	return c.AddExclude(line)
}
