package musiccache

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	kvFormat = "%s => %s"
	kvSep    = " => "
)

// ErrNotFound 没有记录
var ErrNotFound = errors.New("not found")

// Store 手动选择结果的持久化映射，一行一个 `key => value`
type Store struct {
	path  string
	cache sync.Map
	mu    sync.Mutex
}

// NewStore 打开映射文件，不存在时创建
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), kvSep)
		if !ok || key == "" {
			continue
		}
		// 后写入的覆盖先写入的
		s.cache.Store(key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	return s, nil
}

// Set 记录映射并追加到文件，值未变化时不写文件
func (s *Store) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "\n") || strings.Contains(value, "\n") {
		return fmt.Errorf("invalid cache entry %q", key)
	}
	if old, ok := s.cache.Load(key); ok && old.(string) == value {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, kvFormat+"\n", key, value); err != nil {
		return fmt.Errorf("failed to append cache entry: %w", err)
	}
	s.cache.Store(key, value)
	return nil
}

// Get 读取映射
func (s *Store) Get(key string) (string, error) {
	v, ok := s.cache.Load(strings.TrimSpace(key))
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}
