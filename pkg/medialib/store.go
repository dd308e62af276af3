package medialib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/media"
)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "medialib").Logger()
	return &l
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS media_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		relative_path TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		artist TEXT NOT NULL DEFAULT '',
		album TEXT NOT NULL DEFAULT '',
		duration INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		mod_time INTEGER NOT NULL DEFAULT 0,
		cover TEXT NOT NULL DEFAULT '',
		indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_media_files_title ON media_files(title);
	`

// addCoverColumnSQL 旧索引没有 cover 列
const addCoverColumnSQL = `ALTER TABLE media_files ADD COLUMN cover TEXT NOT NULL DEFAULT ''`

const selectColumns = `SELECT id, relative_path, title, artist, album, duration, size, mod_time, cover FROM media_files`

// MediaFile 媒体库中的一条记录，路径相对于库根目录，使用 / 分隔
type MediaFile struct {
	ID           int64     `json:"id"`
	RelativePath string    `json:"relativePath"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album"`
	Duration     int       `json:"duration"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"modTime"`
	// Cover 缓存的封面文件绝对路径，没有封面时为空
	Cover string `json:"cover,omitempty"`
}

// Library 本地媒体库索引
type Library struct {
	root string
	db   *sql.DB

	// 可选，用于补齐标签中没有的时长
	probeDuration func(ctx context.Context, path string) (float64, error)
	// 可选，提取内嵌封面并返回缓存路径
	extractCover func(ctx context.Context, path string) (string, bool)
}

// Open 打开(或创建)媒体库索引
func Open(root, dataSourceName string) (*Library, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library root %s: %w", root, err)
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create media_files table: %w", err)
	}
	if _, err := db.Exec(addCoverColumnSQL); err != nil && !strings.Contains(err.Error(), "duplicate column") {
		db.Close()
		return nil, fmt.Errorf("failed to migrate media_files table: %w", err)
	}
	logger().Info().Str("root", absRoot).Str("database", dataSourceName).Msg("Media library opened")
	return &Library{root: absRoot, db: db}, nil
}

// SetDurationProbe 设置时长探测函数(一般是 ffprobe)
func (l *Library) SetDurationProbe(fn func(ctx context.Context, path string) (float64, error)) {
	l.probeDuration = fn
}

// SetCoverExtractor 设置封面提取函数(一般是 ffmpeg)
func (l *Library) SetCoverExtractor(fn func(ctx context.Context, path string) (string, bool)) {
	l.extractCover = fn
}

// Root 库根目录的绝对路径
func (l *Library) Root() string {
	return l.root
}

// AbsPath 把相对路径转换为库根目录下的绝对路径，".." 不会越出根目录
func (l *Library) AbsPath(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(cleanRel(rel)))
}

// Close 关闭数据库连接
func (l *Library) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Upsert 写入或更新一条记录
func (l *Library) Upsert(ctx context.Context, f MediaFile) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO media_files (relative_path, title, artist, album, duration, size, mod_time, cover, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(relative_path) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			duration = excluded.duration,
			size = excluded.size,
			mod_time = excluded.mod_time,
			cover = excluded.cover,
			indexed_at = CURRENT_TIMESTAMP`,
		f.RelativePath, f.Title, f.Artist, f.Album, f.Duration, f.Size, f.ModTime.Unix(), f.Cover)
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", f.RelativePath, err)
	}
	return nil
}

// Remove 删除一个文件或目录下的所有记录
func (l *Library) Remove(ctx context.Context, rel string) error {
	rel = cleanRel(rel)
	_, err := l.db.ExecContext(ctx, "DELETE FROM media_files WHERE relative_path = ? OR relative_path LIKE ? ESCAPE '\\'",
		rel, likePrefix(rel))
	if err != nil {
		return fmt.Errorf("failed to remove %s from library: %w", rel, err)
	}
	return nil
}

// ListMediaFileByID 按ID查询
func (l *Library) ListMediaFileByID(ctx context.Context, id int64) (*MediaFile, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: media file %d", media.ErrNotFound, id)
	}
	return f, err
}

// FindByPath 按相对路径查询
func (l *Library) FindByPath(ctx context.Context, rel string) (*MediaFile, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+" WHERE relative_path = ?", cleanRel(rel))
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: media file %s", media.ErrNotFound, rel)
	}
	return f, err
}

// ListUnder 列出目录下(递归)的所有记录，按路径排序；dir 为空时列出全部
func (l *Library) ListUnder(ctx context.Context, dir string) ([]MediaFile, error) {
	dir = cleanRel(dir)
	if dir == "" {
		return l.query(ctx, selectColumns+" ORDER BY relative_path")
	}
	return l.query(ctx, selectColumns+" WHERE relative_path LIKE ? ESCAPE '\\' ORDER BY relative_path", likePrefix(dir))
}

// Search 按标题、歌手、专辑模糊查询
func (l *Library) Search(ctx context.Context, keyword string, limit int) ([]MediaFile, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(strings.TrimSpace(keyword)) + "%"
	return l.query(ctx, selectColumns+` WHERE title LIKE ? ESCAPE '\' OR artist LIKE ? ESCAPE '\' OR album LIKE ? ESCAPE '\'
		ORDER BY title LIMIT ?`, pattern, pattern, pattern, limit)
}

// Count 记录总数
func (l *Library) Count(ctx context.Context) (int, error) {
	var count int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM media_files").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count media files: %w", err)
	}
	return count, nil
}

func (l *Library) query(ctx context.Context, q string, args ...any) ([]MediaFile, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query media library: %w", err)
	}
	defer rows.Close()

	var files []MediaFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*MediaFile, error) {
	var f MediaFile
	var modTime int64
	if err := row.Scan(&f.ID, &f.RelativePath, &f.Title, &f.Artist, &f.Album, &f.Duration, &f.Size, &modTime, &f.Cover); err != nil {
		return nil, err
	}
	f.ModTime = time.Unix(modTime, 0)
	return &f, nil
}

func cleanRel(rel string) string {
	rel = filepath.ToSlash(filepath.Clean("/" + rel))
	return strings.TrimPrefix(rel, "/")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func likePrefix(dir string) string {
	return escapeLike(strings.TrimSuffix(dir, "/")) + "/%"
}
