package runner

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/workflow"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

var cacheLog = logger.New("runner:cache")

// cacheKeyVersion is bumped whenever the archive layout changes.
const cacheKeyVersion = "v1"

// cachedDir is the workspace directory the cache persists.
const cachedDir = "target"

const cacheSuffix = ".tar.zst"

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CacheStore persists build artifacts between runs, keyed by the dependency
// lockfile, runner image and toolchain channel. Concurrent saves of the same
// key race and the last rename wins.
type CacheStore struct {
	Dir string
}

// NewCacheStore creates a store rooted at dir.
func NewCacheStore(dir string) *CacheStore {
	return &CacheStore{Dir: dir}
}

// Key derives the cache key for an instance. A workspace without a lockfile
// still gets a stable key.
func (c *CacheStore) Key(workspace string, inst *workflow.Instance) (string, error) {
	lockfile, err := os.ReadFile(filepath.Join(workspace, constants.LockfileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading %s: %w", constants.LockfileName, err)
	}

	channel := ""
	if inst.Toolchain != nil {
		channel = inst.Toolchain.Channel
	}

	h := blake3.New()
	for _, part := range [][]byte{[]byte(cacheKeyVersion), []byte(inst.RunsOn), []byte(channel), lockfile} {
		fmt.Fprintf(h, "%d:", len(part))
		h.Write(part)
	}
	sum := h.Sum(nil)

	key := fmt.Sprintf("%s-%s-%s-%x", cacheKeyVersion, sanitizeKeyPart(inst.RunsOn), sanitizeKeyPart(channel), sum[:16])
	cacheLog.Printf("Cache key for %s: %s", inst.DisplayName(), key)
	return key, nil
}

func sanitizeKeyPart(s string) string {
	if s == "" {
		return "none"
	}
	return unsafeKeyChars.ReplaceAllString(s, "_")
}

func (c *CacheStore) archivePath(key string) string {
	return filepath.Join(c.Dir, key+cacheSuffix)
}

// Restore extracts the archive for key into the workspace. A missing entry
// is a miss, not an error.
func (c *CacheStore) Restore(key, workspace string) (hit bool, err error) {
	f, err := os.Open(c.archivePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		cacheLog.Printf("Cache miss for %s", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("opening cache entry %s: %w", key, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return false, fmt.Errorf("opening zstd stream for %s: %w", key, err)
	}
	defer zr.Close()

	// Extract next to the destination so a corrupt archive leaves no
	// partial files behind and the final moves stay on one filesystem.
	staging, err := os.MkdirTemp(workspace, ".cache-restore-*")
	if err != nil {
		return false, fmt.Errorf("creating staging directory for %s: %w", key, err)
	}
	defer os.RemoveAll(staging)

	if err := extractTar(tar.NewReader(zr), staging); err != nil {
		return false, fmt.Errorf("extracting cache entry %s: %w", key, err)
	}
	dest := filepath.Join(workspace, cachedDir)
	if err := moveInto(staging, dest); err != nil {
		return false, fmt.Errorf("restoring cache entry %s: %w", key, err)
	}
	cacheLog.Printf("Cache hit for %s restored into %s", key, dest)
	return true, nil
}

// moveInto moves the contents of src into dest. dest is replaced wholesale
// when absent, otherwise files are moved over existing ones.
func moveInto(src, dest string) error {
	if _, err := os.Lstat(dest); errors.Is(err, fs.ErrNotExist) {
		return os.Rename(src, dest)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return os.Rename(path, target)
	})
}

func extractTar(tr *tar.Reader, dest string) error {
	root := filepath.Clean(dest) + string(os.PathSeparator)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if target != filepath.Clean(dest) && !strings.HasPrefix(target, root) {
			return fmt.Errorf("archive entry %q escapes the cache directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFileFrom(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			cacheLog.Printf("Skipping unsupported archive entry %s (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
}

func writeFileFrom(path string, r io.Reader, perm fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Save archives the workspace's target directory under key. The archive is
// written to a temporary file and renamed into place.
func (c *CacheStore) Save(key, workspace string) error {
	src := filepath.Join(workspace, cachedDir)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		cacheLog.Printf("Nothing to cache for %s: %s does not exist", key, src)
		return nil
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(c.Dir, "cache-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := writeArchive(tmpFile, src); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing cache archive: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, c.archivePath(key)); err != nil {
		return fmt.Errorf("renaming cache file for %s: %w", key, err)
	}

	success = true
	cacheLog.Printf("Saved cache entry %s", key)
	return nil
}

func writeArchive(w io.Writer, src string) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		zw.Close()
		return walkErr
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
