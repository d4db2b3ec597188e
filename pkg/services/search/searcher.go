package search

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// DefaultSkipDirs are directory names never descended into.
var DefaultSkipDirs = []string{
	".git", "node_modules", "vendor", "dist", "build", "out", "target",
	".next", ".nuxt", "Pods", "DerivedData", ".gradle", "__pycache__", ".venv", "venv",
}

// binarySniffLen is how much of a file is checked for NUL bytes.
const binarySniffLen = 8000

// Config controls what the Searcher reads.
type Config struct {
	Workers          int
	MaxFileSizeBytes int64
	SkipDirs         []string
}

// Searcher greps a directory tree for a set of regular expressions.
type Searcher struct {
	config Config
	logger *zap.Logger
}

// NewSearcher creates a Searcher. Zero values in cfg fall back to defaults.
func NewSearcher(cfg Config, logger *zap.Logger) *Searcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 1 << 20
	}
	if len(cfg.SkipDirs) == 0 {
		cfg.SkipDirs = DefaultSkipDirs
	}
	return &Searcher{config: cfg, logger: logger.Named("search")}
}

type match struct {
	path   string
	line   int
	column int
	text   string
}

// Search walks root and returns every matching line in vimgrep format
// ("path:line:col:text", path relative to root), sorted by path then line.
// A line matched by several patterns is reported once, at its first match column.
func (s *Searcher) Search(ctx context.Context, root string, patterns []models.SearchPattern) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			s.logger.Warn("Skipping invalid search pattern", zap.String("pattern", p.Pattern), zap.Error(err))
			continue
		}
		compiled = append(compiled, re)
	}
	if len(compiled) == 0 {
		return nil, fmt.Errorf("no valid search patterns")
	}

	files, err := s.collectFiles(root)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		matches []match
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for _, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found, err := scanFile(filepath.Join(root, rel), rel, compiled)
			if err != nil {
				s.logger.Debug("Skipping unreadable file", zap.String("path", rel), zap.Error(err))
				return nil
			}
			if len(found) > 0 {
				mu.Lock()
				matches = append(matches, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search cancelled: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].path != matches[j].path {
			return matches[i].path < matches[j].path
		}
		return matches[i].line < matches[j].line
	})

	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = fmt.Sprintf("%s:%d:%d:%s", m.path, m.line, m.column, m.text)
	}

	s.logger.Info("Search complete",
		zap.Int("files", len(files)),
		zap.Int("patterns", len(compiled)),
		zap.Int("matches", len(lines)))

	return lines, nil
}

// collectFiles lists regular files under root that are small enough to scan.
func (s *Searcher) collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && slices.Contains(s.config.SkipDirs, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 || info.Size() > s.config.MaxFileSizeBytes {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return files, nil
}

func scanFile(path, rel string, patterns []*regexp.Regexp) ([]match, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(data[:min(len(data), binarySniffLen)], 0) >= 0 {
		return nil, nil
	}

	var found []match
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), len(data)+1)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimRight(scanner.Text(), "\r")

		col := -1
		for _, re := range patterns {
			loc := re.FindStringIndex(text)
			if loc != nil && (col < 0 || loc[0] < col) {
				col = loc[0]
			}
		}
		if col >= 0 {
			found = append(found, match{path: rel, line: lineNo, column: col + 1, text: text})
		}
	}
	return found, scanner.Err()
}
