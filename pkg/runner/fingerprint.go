package runner

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/cipolicy/gh-ci/pkg/gitutil"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/zeebo/blake3"
)

var fingerprintLog = logger.New("runner:fingerprint")

// skippedDirs are never part of a tree fingerprint: VCS metadata and build
// output are expected to change.
var skippedDirs = map[string]bool{".git": true, cachedDir: true}

// Fingerprint maps slash-separated relative paths to content digests.
type Fingerprint map[string][32]byte

// FingerprintTree hashes the files below root that a verification job must
// leave alone. Inside a git checkout these are the tracked files, so
// untracked and ignored output such as a generated Cargo.lock never counts.
// Elsewhere every file outside the skipped directories is hashed. Symlinks
// are hashed by their target.
func FingerprintTree(ctx context.Context, root string) (Fingerprint, error) {
	if _, err := os.Lstat(filepath.Join(root, ".git")); err == nil {
		tracked, err := gitutil.TrackedFiles(ctx, root)
		if err != nil {
			return nil, err
		}
		return fingerprintFiles(root, tracked)
	}

	fp := make(Fingerprint)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sum, err := hashEntry(path, d.Type())
		if err != nil {
			return err
		}
		fp[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	fingerprintLog.Printf("Fingerprinted %d files under %s", len(fp), root)
	return fp, nil
}

// fingerprintFiles hashes the listed paths. Paths missing from disk are
// left out, and so are directories such as submodules.
func fingerprintFiles(root string, paths []string) (Fingerprint, error) {
	fp := make(Fingerprint, len(paths))
	for _, rel := range paths {
		path := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		sum, err := hashEntry(path, info.Mode().Type())
		if err != nil {
			return nil, err
		}
		fp[rel] = sum
	}
	fingerprintLog.Printf("Fingerprinted %d tracked files under %s", len(fp), root)
	return fp, nil
}

func hashEntry(path string, mode fs.FileMode) ([32]byte, error) {
	if mode&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return [32]byte{}, err
		}
		return blake3.Sum256([]byte("symlink:" + target)), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// Diff returns the sorted paths of f that were removed or modified in
// after. Paths only present in after are new files and are not changes.
func (f Fingerprint) Diff(after Fingerprint) []string {
	var changed []string
	for path, sum := range f {
		if other, ok := after[path]; !ok || other != sum {
			changed = append(changed, path)
		}
	}
	slices.Sort(changed)
	return changed
}
