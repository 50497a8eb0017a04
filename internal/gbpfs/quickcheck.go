package gbpfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// QuickCheckCopyTree walks srcDir and reproduces it at dstDir. For every
// regular file, if a file at the same relative path under prevDir exists
// with the same size and modification time (rsync's "quick-check"), the
// destination is hardlinked to the prior-build sibling instead of copied.
// Symlinks are always recreated as symlinks, never followed or
// deduplicated. Directories are created fresh. prevDir may be empty, in
// which case every file is copied.
func QuickCheckCopyTree(srcDir, dstDir, prevDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return fmt.Errorf("gbpfs: relativize %s: %w", path, err)
		}
		dst := filepath.Join(dstDir, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(dst, dirPerm)
		case d.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("gbpfs: readlink %s: %w", path, err)
			}
			os.Remove(dst)
			if err := os.Symlink(target, dst); err != nil {
				return fmt.Errorf("gbpfs: symlink %s -> %s: %w", dst, target, err)
			}
			return nil
		default:
			prev := ""
			if prevDir != "" {
				prev = filepath.Join(prevDir, rel)
			}
			return quickCheckCopyFile(path, dst, prev)
		}
	})
}

// quickCheckCopyFile implements one file's worth of the quick-check
// algorithm: hardlink from prevPath when its (size, mtime) match src and
// it is not itself a symlink; otherwise byte-copy src to dst, preserving
// mtime.
func quickCheckCopyFile(src, dst, prevPath string) error {
	srcInfo, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("gbpfs: stat %s: %w", src, err)
	}

	if prevPath != "" {
		if prevInfo, err := os.Lstat(prevPath); err == nil && prevInfo.Mode()&os.ModeSymlink == 0 {
			if prevInfo.Size() == srcInfo.Size() && prevInfo.ModTime().Equal(srcInfo.ModTime()) {
				if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
					return fmt.Errorf("gbpfs: mkdir parent of %s: %w", dst, err)
				}
				os.Remove(dst)
				if err := os.Link(prevPath, dst); err == nil {
					return nil
				}
				// fall through to a plain copy if the hardlink attempt failed
				// (e.g. cross-device prevDir).
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("gbpfs: mkdir parent of %s: %w", dst, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("gbpfs: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("gbpfs: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("gbpfs: copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("gbpfs: close %s: %w", dst, err)
	}
	return os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime())
}
