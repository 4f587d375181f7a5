package restore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bamsammich/unbox/internal/status"
)

// CleanPath normalizes an archive path into a relative, slash-separated
// destination path. Duplicate separators and "." components are dropped.
// A leading "/" is either rejected or stripped with a warning, and ".."
// components are either rejected or kept with a warning. The entry for the
// root itself comes back as ".".
//
// A non-nil error with a usable path is a Warn; Failed errors carry no path.
func CleanPath(name string, noDotDot, noAbsolute bool) (string, error) {
	if name == "" {
		return "", status.Failf(status.KindFormat, "path", name, "invalid empty pathname")
	}
	var warn error
	p := name
	if strings.HasPrefix(p, "/") {
		if noAbsolute {
			return "", status.Failf(status.KindPolicy, "path", name, "path is absolute")
		}
		p = strings.TrimLeft(p, "/")
		warn = status.Warnf(status.KindPolicy, "path", name, "removing leading '/' from member name")
	}

	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, c := range parts {
		switch c {
		case "", ".":
			continue
		case "..":
			if noDotDot {
				return "", status.Failf(status.KindPolicy, "path", name, "path contains '..'")
			}
			if warn == nil {
				warn = status.Warnf(status.KindPolicy, "path", name, "path contains '..'")
			}
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return ".", warn
	}
	return strings.Join(out, "/"), warn
}

// guard walks the intermediate components of rel under the root and refuses
// to pass through anything that is not a real directory. With Unlink set the
// offending object is removed instead. The last component is not checked,
// and neither is anything a ".." component has already taken above the root.
func (r *Restorer) guard(rel string) error {
	comps := strings.Split(rel, "/")
	cur := r.root
	depth := 0
	for _, c := range comps[:len(comps)-1] {
		if c == ".." {
			depth--
		} else {
			depth++
		}
		if depth < 0 {
			return nil
		}
		cur = filepath.Join(cur, c)
		fi, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return status.Wrap(status.Failed, status.KindIO, "lstat", rel, err)
		}
		if fi.IsDir() {
			continue
		}
		what := "a symlink"
		if fi.Mode()&fs.ModeSymlink == 0 {
			what = "not a directory"
		}
		if !r.opts.Unlink {
			return status.Failf(status.KindPolicy, "path", rel,
				"cannot extract through %s: %s", what, cur)
		}
		if err := os.Remove(cur); err != nil {
			return status.Wrap(status.Failed, status.KindIO, "unlink", cur, err)
		}
		return nil
	}
	return nil
}
