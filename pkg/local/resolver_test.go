package local

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox-backend/pkg/media"
	"nox-backend/pkg/medialib"
)

func newTestResolver(t *testing.T) (*Resolver, *medialib.Library, string) {
	t.Helper()
	root := t.TempDir()
	lib, err := medialib.Open(root, filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })

	ctx := context.Background()
	for _, f := range []medialib.MediaFile{
		{RelativePath: "jay/晴天.mp3", Title: "晴天", Artist: "周杰伦", Album: "叶惠美", Duration: 269, Cover: "/cache/covers/qt.jpg"},
		{RelativePath: "jay/七里香.flac", Title: "七里香", Artist: "周杰伦", Album: "七里香", Duration: 299},
		{RelativePath: "misc/demo.m4a", Title: "demo"},
	} {
		require.NoError(t, lib.Upsert(ctx, f))
	}
	return NewResolver(lib), lib, root
}

func TestIsDirect(t *testing.T) {
	assert.True(t, IsDirect("local://jay/晴天.mp3"))
	assert.True(t, IsDirect("  local://x"))
	assert.False(t, IsDirect("晴天"))
	assert.Equal(t, "local://a/b.mp3", URLFor("a/b.mp3"))
}

func TestResolveSingleFile(t *testing.T) {
	r, _, _ := newTestResolver(t)

	songs, err := r.ResolveSearch(context.Background(), "local://jay/晴天.mp3", media.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, songs, 1)

	song := songs[0]
	assert.Equal(t, media.SourceLocal, song.Source)
	assert.Equal(t, "local-jay/晴天.mp3", song.CID)
	assert.Equal(t, "jay/晴天.mp3", song.BVID)
	assert.Equal(t, "晴天", song.Name)
	assert.Equal(t, "周杰伦", song.Singer)
	assert.Equal(t, "叶惠美", song.Album)
	assert.Equal(t, 269, song.Duration)
	assert.Equal(t, "file:///cache/covers/qt.jpg", song.Cover)
}

func TestResolveByID(t *testing.T) {
	r, lib, _ := newTestResolver(t)
	ctx := context.Background()

	f, err := lib.FindByPath(ctx, "misc/demo.m4a")
	require.NoError(t, err)

	songs, err := r.ResolveSearch(ctx, URLFor(strconv.FormatInt(f.ID, 10)), media.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "demo", songs[0].Name)
}

func TestResolveDirectory(t *testing.T) {
	r, _, _ := newTestResolver(t)

	songs, err := r.ResolveSearch(context.Background(), "local://jay", media.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.Equal(t, "七里香", songs[0].Name)
	assert.Equal(t, "晴天", songs[1].Name)
}

func TestResolveMissing(t *testing.T) {
	r, _, _ := newTestResolver(t)

	_, err := r.ResolveSearch(context.Background(), "local://nope/none.mp3", media.SearchOptions{})
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestKeywordSearch(t *testing.T) {
	r, _, _ := newTestResolver(t)

	songs, err := r.ResolveSearch(context.Background(), "周杰伦", media.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, songs, 2)
}

func TestResolveStream(t *testing.T) {
	r, _, root := newTestResolver(t)

	p := filepath.Join(root, "jay", "晴天.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte("mp3"), 0644))

	stream, err := r.ResolveStream(context.Background(), media.Song{BVID: "jay/晴天.mp3", Source: media.SourceLocal})
	require.NoError(t, err)
	assert.Contains(t, stream.URL, "file://")
	assert.Contains(t, stream.URL, "/jay/")
	assert.Equal(t, "mp3", stream.Codec)

	_, err = r.ResolveStream(context.Background(), media.Song{BVID: "jay/七里香.flac"})
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestResolveStreamStaysInLibrary(t *testing.T) {
	r, _, root := newTestResolver(t)

	// 库目录外的同级文件
	outside := filepath.Join(filepath.Dir(root), filepath.Base(root)+"-outside.mp3")
	require.NoError(t, os.WriteFile(outside, []byte("mp3"), 0644))
	t.Cleanup(func() { os.Remove(outside) })

	_, err := r.ResolveStream(context.Background(), media.Song{BVID: "../" + filepath.Base(outside), Source: media.SourceLocal})
	assert.ErrorIs(t, err, media.ErrNotFound)
}
