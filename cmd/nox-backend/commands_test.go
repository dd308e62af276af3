package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox-backend/internal/config"
	"nox-backend/pkg/media"
)

func TestSearchOptionsFallBackToConfig(t *testing.T) {
	defaults := config.SearchConfig{
		ExtraSources: []media.Source{media.SourceMusicFree},
		UseTagFilter: true,
		FastMode:     true,
	}

	opts, err := searchOptions(searchCmd, defaults)
	require.NoError(t, err)
	assert.True(t, opts.UseTagFilter)
	assert.True(t, opts.FastMode)
	assert.Equal(t, []media.Source{media.SourceMusicFree}, opts.Sources)

	require.NoError(t, searchCmd.Flags().Set("fast", "false"))
	require.NoError(t, searchCmd.Flags().Set("also", "local"))
	require.NoError(t, searchCmd.Flags().Set("source", "youtube"))
	t.Cleanup(func() {
		searchFast, searchExtra, searchSource = false, nil, ""
		searchCmd.Flags().Lookup("fast").Changed = false
		searchCmd.Flags().Lookup("also").Changed = false
		searchCmd.Flags().Lookup("source").Changed = false
	})

	opts, err = searchOptions(searchCmd, defaults)
	require.NoError(t, err)
	assert.False(t, opts.FastMode)
	assert.True(t, opts.UseTagFilter)
	assert.Equal(t, media.SourceYoutube, opts.Source)
	assert.Equal(t, []media.Source{media.SourceLocal}, opts.Sources)
}

func TestPrintJSONPlaylist(t *testing.T) {
	playlist := media.SearchResultPlaylist{
		Title:        "搜索歌单",
		SongList:     []media.Song{{CID: "bilibili-1", Name: "晴天", Source: media.SourceBilibili}},
		SubscribeURL: []string{},
	}

	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, playlist))
	assert.Contains(t, buf.String(), "晴天")

	var got media.SearchResultPlaylist
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, playlist.Title, got.Title)
	require.Len(t, got.SongList, 1)
	assert.Equal(t, "bilibili-1", got.SongList[0].CID)
}
