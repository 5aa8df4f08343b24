package receiver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/blocksync/rsync27/internal/flist"
	"github.com/blocksync/rsync27/internal/rsyncstats"
	"github.com/blocksync/rsync27/internal/rsyncwire"
	"golang.org/x/sync/errgroup"
)

func isTopDir(f *flist.Entry) bool {
	return f.Name == "."
}

func findInFileList(fileList []*flist.Entry, name string) bool {
	for _, f := range fileList {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (rt *Transfer) deleteFiles(fileList []*flist.Entry) error {
	if rt.IOErrors > 0 {
		rt.Logger.Printf("IO error encountered, skipping file deletion")
		return nil
	}

	for _, f := range fileList {
		if !isTopDir(f) {
			continue
		}
		rt.Logger.Printf("deleting in %s", f.Name)
		root := filepath.Clean(rt.Dest)
		strip := root + "/"
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			name := strings.TrimPrefix(path, strip)
			if name == root {
				name = "."
			}
			if findInFileList(fileList, name) {
				return nil
			}
			if rt.Opts.DryRun {
				return nil
			}
			return os.Remove(path)
		})
		if err != nil {
			if os.IsNotExist(err) {
				return nil // destination does not exist, nothing to do
			}
			return err
		}
	}
	return nil
}

// rsync/main.c:do_recv
//
// Do runs the receiver's generate and receive halves concurrently: the
// generator walks the file list producing block-set requests while the
// receiver drains the resulting token streams, exactly as the cooperative,
// single-threaded-per-role model allows since neither loop blocks waiting
// on the other except through the connection itself.
func (rt *Transfer) Do(c *rsyncwire.Conn, fileList []*flist.Entry, noReport bool) (*rsyncstats.TransferStats, error) {
	if rt.Opts.DeleteMode {
		if err := rt.deleteFiles(fileList); err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return rt.GenerateFiles(fileList)
	})
	eg.Go(func() error {
		// Don't block on the receiver once the generator has already failed.
		errChan := make(chan error, 1)
		go func() {
			errChan <- rt.RecvFiles(fileList)
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			return err
		}
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var stats *rsyncstats.TransferStats
	if !noReport {
		var err error
		stats, err = rt.report(c)
		if err != nil {
			return nil, err
		}
	}

	if err := c.WriteInt32(-1); err != nil {
		return nil, err
	}

	return stats, nil
}

// rsync/main.c:report
func (rt *Transfer) report(c *rsyncwire.Conn) (*rsyncstats.TransferStats, error) {
	read, err := c.ReadInt64()
	if err != nil {
		return nil, err
	}
	written, err := c.ReadInt64()
	if err != nil {
		return nil, err
	}
	size, err := c.ReadInt64()
	if err != nil {
		return nil, err
	}
	rt.Logger.Printf("server sent stats: read=%d, written=%d, size=%d", read, written, size)

	return &rsyncstats.TransferStats{
		Read:    read,
		Written: written,
		Size:    size,
	}, nil
}
