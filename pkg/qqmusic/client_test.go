package qqmusic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox-backend/pkg/media"
)

const searchJSON = `{"code":0,"req":{"code":0,"data":{"body":{"song":{"list":[
{"mid":"0039MnYb0qxYhV","name":"晴天","interval":269,"album":{"name":"叶惠美"},"singer":[{"name":"周杰伦"},{"name":"someone"}]},
{"mid":"002abcdEfGhIjK","name":"晴天 (Live)","interval":280,"album":{"name":"Live"},"singer":[{"name":"翻唱者"}]}]}}}}}`

func TestNewSearchRequest(t *testing.T) {
	req := NewSearchRequest("晴天")
	data, err := json.Marshal(req)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"comm":{"ct":"19","cv":"1859","uin":"0"},
		"req":{"method":"DoSearchForQQMusicDesktop","module":"music.search.SearchCgiService",
			"param":{"grp":1,"num_per_page":10,"page_num":1,"query":"晴天","search_type":0}}}`, string(data))

	// 每次都是新对象
	other := NewSearchRequest("稻香")
	assert.Equal(t, "晴天", req.Req.Param.Query)
	assert.Equal(t, "稻香", other.Req.Param.Query)
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "晴天", body.Req.Param.Query)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(searchJSON))
	}))
	defer server.Close()

	c := NewClient(WithSearchURL(server.URL))
	results, err := c.Search(context.Background(), "晴天")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{Mid: "0039MnYb0qxYhV", Name: "晴天", Singer: "周杰伦", Album: "叶惠美", Interval: 269}, results[0])
}

func TestSearchEmptyKey(t *testing.T) {
	c := NewClient()
	_, err := c.Search(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestSearchSongPrefersArtist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchJSON))
	}))
	defer server.Close()

	c := NewClient(WithSearchURL(server.URL))
	mid, err := c.SearchSong(context.Background(), "晴天", "翻唱者")
	require.NoError(t, err)
	assert.Equal(t, "002abcdEfGhIjK", mid)

	mid, err = c.SearchSong(context.Background(), "晴天", "没有这个人")
	require.NoError(t, err)
	assert.Equal(t, "0039MnYb0qxYhV", mid)
}

func TestLyric(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"plain", `{"retcode":0,"lyric":"[00:01.00]故事的小黄花"}`, "[00:01.00]故事的小黄花", false},
		{"with trans", `{"retcode":0,"lyric":"[00:01.00]hello","trans":"[00:01.00]你好"}`, "[00:01.00]你好\n[00:01.00]hello", false},
		{"escaped", `{"retcode":0,"lyric":"&#91;00&#58;01.00&#93;a"}`, "[00:01.00]a", false},
		{"missing", `{"retcode":-1901}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "0039MnYb0qxYhV", r.URL.Query().Get("songmid"))
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(WithLyricURL(server.URL + "/lyric?songmid={SongMid}&format=json"))
			got, err := c.GetLyrics(context.Background(), "0039MnYb0qxYhV")
			if tt.wantErr {
				assert.ErrorIs(t, err, media.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
