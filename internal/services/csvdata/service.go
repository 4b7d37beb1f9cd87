package csvdata

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"Heimdall/internal/domain/models"
	"Heimdall/internal/service/cache"
	applogger "Heimdall/pkg/logger"
)

var (
	ErrInvalidPath    = errors.New("invalid path")
	ErrFolderNotFound = errors.New("folder not found")
	ErrFileNotFound   = errors.New("csv not found")
)

const (
	DefaultLimit = 500
	MaxLimit     = 5000
)

// Service browses CSV files below a fixed data root.
type Service struct {
	root     string
	maxLimit int
	pages    cache.BytesCache
	ttl      time.Duration
	l        *applogger.Logger
}

type Option func(*Service)

// WithPageCache caches serialized pages for ttl.
func WithPageCache(c cache.BytesCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.pages = c
		s.ttl = ttl
	}
}

// WithMaxLimit lowers the per-page row cap.
func WithMaxLimit(n int) Option {
	return func(s *Service) {
		if n > 0 && n < MaxLimit {
			s.maxLimit = n
		}
	}
}

func NewService(root string, l *applogger.Logger, opts ...Option) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	abs = filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	if l == nil {
		l = applogger.Nop()
	}
	s := &Service{root: abs, maxLimit: MaxLimit, l: l.Component("csvdata")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Root() string { return s.root }

// ListFiles returns the sorted *.csv files directly inside subdir, relative to the root.
func (s *Service) ListFiles(subdir string) (models.CSVFileList, error) {
	base := s.root
	if subdir != "" {
		p, err := s.resolve(subdir)
		if err != nil {
			return models.CSVFileList{}, err
		}
		base = p
	}
	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		return models.CSVFileList{}, ErrFolderNotFound
	}

	matches, err := filepath.Glob(filepath.Join(base, "*.csv"))
	if err != nil {
		return models.CSVFileList{}, fmt.Errorf("glob csv: %w", err)
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, err := s.follow(m); err != nil {
			continue
		}
		if fi, err := os.Stat(m); err != nil || fi.IsDir() {
			continue
		}
		rel, err := filepath.Rel(s.root, m)
		if err != nil {
			continue
		}
		files = append(files, filepath.ToSlash(rel))
	}
	sort.Strings(files)
	return models.CSVFileList{DataRoot: s.root, Files: files}, nil
}

// ReadPage returns rows [offset, offset+limit) of a CSV file plus its header and row count.
func (s *Service) ReadPage(relPath string, offset, limit int) (models.CSVPage, error) {
	if offset < 0 {
		return models.CSVPage{}, fmt.Errorf("%w: negative offset", ErrInvalidPath)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	p, err := s.resolve(relPath)
	if err != nil {
		return models.CSVPage{}, err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() || !strings.EqualFold(filepath.Ext(p), ".csv") {
		return models.CSVPage{}, ErrFileNotFound
	}

	key := fmt.Sprintf("csv:%s:%d:%d:%d:%d", relPath, info.ModTime().UnixNano(), info.Size(), offset, limit)
	if page, ok := s.cached(key); ok {
		return page, nil
	}

	page, err := readPage(p, offset, limit)
	if err != nil {
		return models.CSVPage{}, err
	}
	page.File = relPath
	s.store(key, page)
	return page, nil
}

// resolve joins rel onto the root and rejects anything escaping it, symlinks included.
// A path that does not exist is returned unresolved so callers report it as missing.
func (s *Service) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", ErrInvalidPath
	}
	p := filepath.Clean(filepath.Join(s.root, rel))
	if !s.within(p) {
		return "", ErrInvalidPath
	}
	return s.follow(p)
}

// follow evaluates symlinks in p and checks the target is still under the root.
func (s *Service) follow(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !s.within(resolved) {
		return "", ErrInvalidPath
	}
	return resolved, nil
}

func (s *Service) within(p string) bool {
	return p == s.root || strings.HasPrefix(p, s.root+string(filepath.Separator))
}

func (s *Service) cached(key string) (models.CSVPage, bool) {
	if s.pages == nil {
		return models.CSVPage{}, false
	}
	b, ok, err := s.pages.GetBytes(key)
	if err != nil {
		s.l.Warn("page cache read failed", applogger.String("key", key), applogger.Error(err))
		return models.CSVPage{}, false
	}
	if !ok {
		return models.CSVPage{}, false
	}
	var page models.CSVPage
	if err := json.Unmarshal(b, &page); err != nil {
		return models.CSVPage{}, false
	}
	return page, true
}

func (s *Service) store(key string, page models.CSVPage) {
	if s.pages == nil {
		return
	}
	b, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := s.pages.SetBytes(key, b, s.ttl); err != nil {
		s.l.Warn("page cache write failed", applogger.String("key", key), applogger.Error(err))
	}
}

func readPage(path string, offset, limit int) (models.CSVPage, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.CSVPage{}, ErrFileNotFound
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return models.CSVPage{Columns: []string{}, Rows: []map[string]string{}, Offset: offset, Limit: limit}, nil
	}
	if err != nil {
		return models.CSVPage{}, fmt.Errorf("read header: %w", err)
	}

	page := models.CSVPage{
		Columns: header,
		Offset:  offset,
		Limit:   limit,
		Rows:    make([]map[string]string, 0),
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.CSVPage{}, fmt.Errorf("read row %d: %w", page.TotalRows+1, err)
		}
		if page.TotalRows >= offset && page.TotalRows < offset+limit {
			row := make(map[string]string, len(header))
			for i, col := range header {
				if i < len(rec) {
					row[col] = rec[i]
				} else {
					row[col] = ""
				}
			}
			page.Rows = append(page.Rows, row)
		}
		page.TotalRows++
	}
	return page, nil
}
