package runner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var workspaceLog = logger.New("runner:workspace")

// copyTree copies src into dst, leaving out the build output directory so
// every instance starts cold unless the cache restores it.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && rel == cachedDir {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			return writeFileFrom(target, f, info.Mode().Perm())
		default:
			workspaceLog.Printf("Skipping special file %s", rel)
			return nil
		}
	})
}

// isolatedWorkspace copies src into a fresh temporary directory.
func isolatedWorkspace(src, jobID string) (string, error) {
	dir, err := os.MkdirTemp("", "gh-ci-"+jobID+"-*")
	if err != nil {
		return "", fmt.Errorf("creating instance workspace: %w", err)
	}
	if err := copyTree(src, dir); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("copying workspace: %w", err)
	}
	workspaceLog.Printf("Copied %s to %s", src, dir)
	return dir, nil
}
