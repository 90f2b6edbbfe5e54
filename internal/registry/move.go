package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	cp "github.com/otiai10/copy"

	"github.com/robertjbass/spindb-sub005/internal/errdefs"
)

// moveDir renames src to dst. When rename fails (cross-device moves, some
// platforms) it falls back to copy-verify-delete; any failure on that path
// removes the partial target and leaves src untouched.
func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	slog.Debug("Directory rename failed, copying instead", "src", src, "dst", dst)

	if err := cp.Copy(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("%w: copy %s: %v", errdefs.ErrMoveFailed, src, err)
	}

	srcFiles, srcBytes, err := treeStats(src)
	if err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("%w: verify source %s: %v", errdefs.ErrMoveFailed, src, err)
	}
	dstFiles, dstBytes, err := treeStats(dst)
	if err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("%w: verify target %s: %v", errdefs.ErrMoveFailed, dst, err)
	}
	if srcFiles != dstFiles || srcBytes != dstBytes {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("%w: copied tree differs (%d files/%d bytes vs %d files/%d bytes)",
			errdefs.ErrMoveFailed, srcFiles, srcBytes, dstFiles, dstBytes)
	}

	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("%w: remove source %s after copy: %v", errdefs.ErrMoveFailed, src, err)
	}
	return nil
}

func treeStats(dir string) (files int, bytes int64, err error) {
	err = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		files++
		bytes += info.Size()
		return nil
	})
	return files, bytes, err
}
