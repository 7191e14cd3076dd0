package indexer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// discovered is the outcome of walking and hashing a source root
type discovered struct {
	files      []types.FileHash
	unreadable map[string]error // Present on disk but could not be hashed
}

// paths returns every present path, readable or not
func (d *discovered) paths() []string {
	out := make([]string, 0, len(d.files)+len(d.unreadable))
	for _, f := range d.files {
		out = append(out, f.Path)
	}
	for p := range d.unreadable {
		out = append(out, p)
	}
	return out
}

// discoverFiles finds every candidate file under root
func discoverFiles(ctx context.Context, root string, extensions []string, maxSize int64) ([]types.FileHash, error) {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", absRoot)
	}

	var files []types.FileHash
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			// Skip hidden directories
			if path != absRoot && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		// Skip symlinks
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !allowed[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if maxSize > 0 && fi.Size() > maxSize {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		files = append(files, types.FileHash{
			Path:    filepath.ToSlash(rel),
			AbsPath: path,
			Size:    fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// hashFiles computes content hashes with bounded parallelism. Files that
// cannot be read are reported separately rather than failing the run.
func hashFiles(ctx context.Context, files []types.FileHash, workers int) (*discovered, error) {
	errs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hash, err := computeFileHash(files[i].AbsPath)
			if err != nil {
				errs[i] = err
				return nil
			}
			files[i].Hash = hash
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &discovered{unreadable: make(map[string]error)}
	for i, f := range files {
		if errs[i] != nil {
			d.unreadable[f.Path] = errs[i]
			continue
		}
		d.files = append(d.files, f)
	}
	return d, nil
}

// computeFileHash computes SHA-256 hash of a file
func computeFileHash(filePath string) ([32]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return [32]byte{}, err
	}
	defer func() { _ = file.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return [32]byte{}, err
	}

	var result [32]byte
	copy(result[:], hash.Sum(nil))
	return result, nil
}
