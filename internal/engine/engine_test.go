package engine

import (
	stdtar "archive/tar"
	stdzip "archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/unbox/internal/archive"
	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/event"
	"github.com/bamsammich/unbox/internal/filter"
	"github.com/bamsammich/unbox/internal/restore"
	"github.com/bamsammich/unbox/internal/status"
)

func skipUnlessUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("requires unix file semantics")
	}
}

// createTestTree populates root with:
//
//	root.txt
//	sub/big.bin       (2 MiB random)
//	sub/deep/nested.txt
//	sub/deep/link     -> nested.txt
//	hard              hardlink of root.txt
func createTestTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "root.txt"), []byte("root file"), 0o644))

	big := make([]byte, 2<<20)
	_, err := rand.Read(big)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "big.bin"), big, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep", "nested.txt"), []byte("nested"), 0o640))
	require.NoError(t, os.Symlink("nested.txt", filepath.Join(root, "sub", "deep", "link")))
	require.NoError(t, os.Link(filepath.Join(root, "root.txt"), filepath.Join(root, "hard")))

	old := time.Date(2020, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "sub", "deep"), old, old))
}

func assertSameFile(t *testing.T, a, b string) {
	t.Helper()
	da, err := os.ReadFile(a)
	require.NoError(t, err)
	db, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(da, db), "%s differs from %s", b, a)
}

func packTo(t *testing.T, src, name string, mutate func(*PackConfig)) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), name)
	cfg := PackConfig{Src: src, Archive: out}
	if mutate != nil {
		mutate(&cfg)
	}
	res := Pack(context.Background(), cfg)
	require.NoError(t, res.Err)
	require.Equal(t, status.OK, res.Code)
	return out
}

func extractTo(t *testing.T, archivePath string, mutate func(*Config)) (string, Result) {
	t.Helper()
	dst := filepath.Join(t.TempDir(), "dst")
	cfg := Config{Archive: archivePath, Dest: dst, Restore: restore.DefaultOptions()}
	cfg.Restore.Perm = true
	if mutate != nil {
		mutate(&cfg)
	}
	return dst, Run(context.Background(), cfg)
}

func TestRoundTrip(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	createTestTree(t, src)

	for _, name := range []string{"tree.zip", "tree.tar", "tree.tar.gz", "tree.tar.zst", "tree.tar.lz4", "tree.tar.s2"} {
		t.Run(name, func(t *testing.T) {
			dst, res := extractTo(t, packTo(t, src, name, nil), nil)
			require.NoError(t, res.Err)
			assert.Equal(t, status.OK, res.Code)

			for _, rel := range []string{"root.txt", "hard", "sub/big.bin", "sub/deep/nested.txt"} {
				assertSameFile(t, filepath.Join(src, rel), filepath.Join(dst, rel))
			}
			target, err := os.Readlink(filepath.Join(dst, "sub", "deep", "link"))
			require.NoError(t, err)
			assert.Equal(t, "nested.txt", target)

			a, err := os.Stat(filepath.Join(dst, "root.txt"))
			require.NoError(t, err)
			b, err := os.Stat(filepath.Join(dst, "hard"))
			require.NoError(t, err)
			assert.True(t, os.SameFile(a, b), "hardlink survives")

			fi, err := os.Stat(filepath.Join(dst, "sub", "big.bin"))
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

			di, err := os.Stat(filepath.Join(dst, "sub", "deep"))
			require.NoError(t, err)
			assert.Equal(t, int64(1583298367), di.ModTime().Unix(), "dir mtime set after children")

			assert.Equal(t, int64(2), res.Stats.LinksCreated)
			assert.Equal(t, int64(2), res.Stats.DirsCreated)
		})
	}
}

func TestRunReportsChain(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a"), []byte("a"), 0o644))

	_, res := extractTo(t, packTo(t, src, "a.tar.gz", nil), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"gzip"}, res.Filters)
	assert.Equal(t, "tar", res.Format)
}

func TestSparseRoundTripZip(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	p := filepath.Join(src, "sparse")
	f, err := os.Create(p)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{'x'}, 100), 0)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{'y'}, 100), 1<<20)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4<<20))
	require.NoError(t, f.Close())

	dst, res := extractTo(t, packTo(t, src, "s.zip", nil), func(c *Config) { c.Verify = true })
	require.NoError(t, res.Err)
	assertSameFile(t, p, filepath.Join(dst, "sparse"))
	assert.Equal(t, int64(1), res.Verify.Verified)
}

func TestFilterAndVeto(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	createTestTree(t, src)
	arch := packTo(t, src, "tree.zip", nil)

	chain := filter.NewChain()
	require.NoError(t, chain.AddExclude("*.bin"))

	var vetoed []string
	dst, res := extractTo(t, arch, func(c *Config) {
		c.Filter = chain
		c.Veto = func(e *entry.Entry) bool {
			if e.Path == "sub/deep/nested.txt" {
				vetoed = append(vetoed, e.Path)
				return false
			}
			return true
		}
	})
	require.NoError(t, res.Err)
	assert.NoFileExists(t, filepath.Join(dst, "sub", "big.bin"))
	assert.NoFileExists(t, filepath.Join(dst, "sub", "deep", "nested.txt"))
	assert.FileExists(t, filepath.Join(dst, "root.txt"))
	assert.Equal(t, []string{"sub/deep/nested.txt"}, vetoed)
	assert.Equal(t, int64(2), res.Stats.EntriesSkipped)
}

func TestExcludedDirectorySkipsDescendants(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	createTestTree(t, src)
	arch := packTo(t, src, "tree.tar", nil)

	chain := filter.NewChain()
	require.NoError(t, chain.AddExclude("deep/"))
	dst, res := extractTo(t, arch, func(c *Config) { c.Filter = chain })
	require.NoError(t, res.Err)
	assert.NoDirExists(t, filepath.Join(dst, "sub", "deep"))
	assert.FileExists(t, filepath.Join(dst, "sub", "big.bin"))
	// sub/deep, its file and its symlink.
	assert.Equal(t, int64(3), res.Stats.EntriesSkipped)
}

func TestVerifyDuringExtract(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	createTestTree(t, src)

	events := make(chan event.Event, 1024)
	_, res := extractTo(t, packTo(t, src, "tree.tar.xz", nil), func(c *Config) {
		c.Verify = true
		c.Events = events
	})
	close(events)
	require.NoError(t, res.Err)
	// One of the two linked names, sub/big.bin and sub/deep/nested.txt; the
	// hardlink entry is not rehashed.
	assert.Equal(t, int64(3), res.Verify.Verified)
	assert.Zero(t, res.Verify.Failed)

	var types []event.Type
	for ev := range events {
		types = append(types, ev.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, event.ArchiveOpened, types[0])
	assert.Equal(t, event.ArchiveComplete, types[len(types)-1])
	assert.Contains(t, types, event.VerifyOK)
}

func TestNoOverwriteIsWarning(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "f"), []byte("archive"), 0o644))
	arch := packTo(t, src, "f.tar", nil)

	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dst, "f"), []byte("disk"), 0o644))
	opts := restore.DefaultOptions()
	opts.NoOverwrite = true
	res := Run(context.Background(), Config{Archive: arch, Dest: dst, Restore: opts, Verify: true})

	assert.Equal(t, status.Warn, res.Code)
	assert.Equal(t, int64(1), res.Stats.EntriesWarned)
	assert.Zero(t, res.Verify.Failed, "kept files are not verified")
	got, err := os.ReadFile(filepath.Join(dst, "f"))
	require.NoError(t, err)
	assert.Equal(t, "disk", string(got))
}

func TestRunFromSourceReader(t *testing.T) {
	skipUnlessUnix(t)
	var buf bytes.Buffer
	zw := archive.NewZipWriter(&buf)
	e := entry.New("out/data.bin")
	e.Mode = 0o644
	e.SetSize(5)
	require.NoError(t, zw.WriteHeader(e))
	_, err := zw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	dst := t.TempDir()
	res := Run(context.Background(), Config{Source: &buf, Dest: dst, Restore: restore.DefaultOptions()})
	require.NoError(t, res.Err)
	got, err := os.ReadFile(filepath.Join(dst, "out", "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, int64(1), res.Stats.FilesWritten)
}

func TestRunUnrecognizedInputIsFatal(t *testing.T) {
	p := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(p, []byte("plain words, not an archive"), 0o644))
	res := Run(context.Background(), Config{Archive: p, Dest: t.TempDir(), Restore: restore.DefaultOptions()})
	assert.Equal(t, status.Fatal, res.Code)
	assert.Error(t, res.Err)
}

func TestRunMissingArchive(t *testing.T) {
	res := Run(context.Background(), Config{Archive: "/nonexistent/a.zip", Dest: t.TempDir()})
	assert.Equal(t, status.Fatal, res.Code)
}

func TestRunCancelled(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	createTestTree(t, src)
	arch := packTo(t, src, "tree.tar", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Run(ctx, Config{Archive: arch, Dest: t.TempDir(), Restore: restore.DefaultOptions()})
	assert.Equal(t, status.Fatal, res.Code)
}

func TestList(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	createTestTree(t, src)
	arch := packTo(t, src, "tree.zip", nil)

	var names []string
	res := List(context.Background(), ListConfig{Archive: arch}, func(e *entry.Entry) error {
		names = append(names, e.Path)
		return nil
	})
	require.NoError(t, res.Err)
	assert.Equal(t, "zip", res.Format)
	sort.Strings(names)
	assert.Equal(t, []string{"hard", "root.txt", "sub", "sub/big.bin", "sub/deep", "sub/deep/link", "sub/deep/nested.txt"}, names)
	assert.Equal(t, int64(7), res.Entries)
}

func TestPackFilterPrunesDirectories(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	createTestTree(t, src)
	chain := filter.NewChain()
	require.NoError(t, chain.AddExclude("deep/"))

	arch := packTo(t, src, "tree.tar", func(c *PackConfig) { c.Filter = chain })
	var names []string
	res := List(context.Background(), ListConfig{Archive: arch}, func(e *entry.Entry) error {
		names = append(names, e.Path)
		return nil
	})
	require.NoError(t, res.Err)
	for _, n := range names {
		assert.NotContains(t, n, "deep")
	}
}

func TestPackZipMethods(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a"), bytes.Repeat([]byte("abc"), 1000), 0o644))

	for _, m := range []string{"store", "deflate", "zstd", "xz"} {
		t.Run(m, func(t *testing.T) {
			dst, res := extractTo(t, packTo(t, src, "a.zip", func(c *PackConfig) { c.ZipMethod = m }), nil)
			require.NoError(t, res.Err)
			assertSameFile(t, filepath.Join(src, "a"), filepath.Join(dst, "a"))
		})
	}

	res := Pack(context.Background(), PackConfig{Src: src, Archive: filepath.Join(t.TempDir(), "a.zip"), ZipMethod: "lzma"})
	assert.Equal(t, status.Fatal, res.Code)
}

func TestPackDataDescriptors(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	createTestTree(t, src)
	dst, res := extractTo(t, packTo(t, src, "dd.zip", func(c *PackConfig) { c.DataDescriptors = true }), nil)
	require.NoError(t, res.Err)
	assertSameFile(t, filepath.Join(src, "sub", "big.bin"), filepath.Join(dst, "sub", "big.bin"))
}

func TestPackMissingSource(t *testing.T) {
	res := Pack(context.Background(), PackConfig{Src: "/nonexistent/dir", Archive: filepath.Join(t.TempDir(), "x.tar")})
	assert.Equal(t, status.Fatal, res.Code)
	assert.Error(t, res.Err)
}

func writeTar(t *testing.T, hdrs []*stdtar.Header, bodies map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "in.tar")
	f, err := os.Create(p)
	require.NoError(t, err)
	tw := stdtar.NewWriter(f)
	for _, h := range hdrs {
		require.NoError(t, tw.WriteHeader(h))
		if body, ok := bodies[h.Name]; ok {
			_, err := tw.Write([]byte(body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestStandardZipKeepsUnixAttributes(t *testing.T) {
	skipUnlessUnix(t)
	p := filepath.Join(t.TempDir(), "std.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := stdzip.NewWriter(f)

	script := &stdzip.FileHeader{Name: "script.sh", Method: stdzip.Deflate}
	script.SetMode(0o755)
	w, err := zw.CreateHeader(script)
	require.NoError(t, err)
	_, err = w.Write([]byte("#!/bin/sh\n"))
	require.NoError(t, err)

	link := &stdzip.FileHeader{Name: "link", Method: stdzip.Store}
	link.SetMode(os.ModeSymlink | 0o777)
	w, err = zw.CreateHeader(link)
	require.NoError(t, err)
	_, err = w.Write([]byte("script.sh"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dst, res := extractTo(t, p, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, status.OK, res.Code)

	fi, err := os.Lstat(filepath.Join(dst, "script.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())

	target, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "script.sh", target)
}

func TestHardlinkThroughSymlinkLeavesOutsideFileAlone(t *testing.T) {
	skipUnlessUnix(t)
	victim := filepath.Join(t.TempDir(), "victim")
	require.NoError(t, os.WriteFile(victim, []byte("precious"), 0o600))

	arch := writeTar(t, []*stdtar.Header{
		{Name: "evil", Typeflag: stdtar.TypeSymlink, Linkname: victim, Mode: 0o777},
		{Name: "h", Typeflag: stdtar.TypeLink, Linkname: "evil", Size: 4, Mode: 0o644},
	}, nil)
	_, res := extractTo(t, arch, nil)
	assert.Less(t, res.Code, status.Fatal)

	got, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "precious", string(got))
}

func TestTarHardlinkWithSizeKeepsTarget(t *testing.T) {
	skipUnlessUnix(t)
	arch := writeTar(t, []*stdtar.Header{
		{Name: "a", Typeflag: stdtar.TypeReg, Size: 5, Mode: 0o644},
		{Name: "b", Typeflag: stdtar.TypeLink, Linkname: "a", Size: 5, Mode: 0o644},
	}, map[string]string{"a": "hello"})

	dst, res := extractTo(t, arch, nil)
	require.NoError(t, res.Err)
	for _, name := range []string{"a", "b"} {
		got, err := os.ReadFile(filepath.Join(dst, name))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(got), name)
	}
}

func TestDirectoryReplacedBySymlinkKeepsOutsideMode(t *testing.T) {
	skipUnlessUnix(t)
	outside := filepath.Join(t.TempDir(), "outside")
	require.NoError(t, os.Mkdir(outside, 0o700))

	arch := writeTar(t, []*stdtar.Header{
		{Name: "d/", Typeflag: stdtar.TypeDir, Mode: 0o555},
		{Name: "d", Typeflag: stdtar.TypeSymlink, Linkname: outside, Mode: 0o777},
	}, nil)
	_, res := extractTo(t, arch, nil)
	assert.Equal(t, status.Warn, res.Code)

	fi, err := os.Stat(outside)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
}

func TestTarSparseRoundTrip(t *testing.T) {
	skipUnlessUnix(t)
	src := t.TempDir()
	p := filepath.Join(src, "sparse")
	f, err := os.Create(p)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{'x'}, 100), 0)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{'y'}, 100), 1<<20)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4<<20))
	require.NoError(t, f.Close())

	dst, res := extractTo(t, packTo(t, src, "s.tar.zst", nil), func(c *Config) { c.Verify = true })
	require.NoError(t, res.Err)
	assertSameFile(t, p, filepath.Join(dst, "sparse"))
	assert.Equal(t, int64(1), res.Verify.Verified)
}
