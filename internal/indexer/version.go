package indexer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultVersion tags runs of sources without a version resolver
const DefaultVersion = "latest"

// VersionResolver supplies the version tag of a corpus
type VersionResolver interface {
	ResolveVersion(ctx context.Context, root string) (string, error)
}

// StaticVersion is a fixed version tag
type StaticVersion string

// ResolveVersion implements VersionResolver
func (v StaticVersion) ResolveVersion(context.Context, string) (string, error) {
	if v == "" {
		return DefaultVersion, nil
	}
	return string(v), nil
}

// FileVersion reads the version tag from a file. The file either holds
// "key: value" lines, in which case the value of Key (or of the first line
// when Key is empty) is used, or a bare version on its first non-empty line.
type FileVersion struct {
	Path string // Relative paths are resolved against the source root
	Key  string
}

// ResolveVersion implements VersionResolver
func (v FileVersion) ResolveVersion(_ context.Context, root string) (string, error) {
	p := v.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}

	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("failed to open version file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			if v.Key == "" {
				return line, nil
			}
			continue
		}
		if v.Key == "" || strings.TrimSpace(key) == v.Key {
			if value = strings.TrimSpace(value); value != "" {
				return value, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read version file: %w", err)
	}
	return "", fmt.Errorf("no version found in %s", p)
}
