package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memClient 内存客户端
type memClient struct {
	sent   [][]byte
	fail   bool
	closed bool
}

func (m *memClient) Send(data []byte) error {
	if m.fail {
		return errors.New("broken pipe")
	}
	m.sent = append(m.sent, append([]byte(nil), data...))
	return nil
}

func (m *memClient) Close() error {
	m.closed = true
	return nil
}

func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "nox")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "nox.sock")
}

func TestHubReplaysLatestState(t *testing.T) {
	hub := NewHub(1)
	hub.Broadcast(Event{Type: EventLyric, Data: "old"})
	hub.Broadcast(Event{Type: EventLyric, Data: "new"})
	hub.Broadcast(Event{Type: EventProgress, Data: 1.0})
	hub.Broadcast(Event{Type: EventError, Data: "not replayed"})

	c := &memClient{}
	hub.Register(c)
	require.Len(t, c.sent, 2)
	assert.JSONEq(t, `{"type":"progress","data":1}`, string(c.sent[0]))
	assert.JSONEq(t, `{"type":"lyric","data":"new"}`, string(c.sent[1]))
}

func TestHubDropsBrokenClients(t *testing.T) {
	hub := NewHub(1)
	good, bad := &memClient{}, &memClient{fail: true}
	hub.Register(good)
	hub.Register(bad)

	hub.Broadcast(Event{Type: EventLyricLine, Data: "窗外的麻雀"})
	assert.Len(t, good.sent, 1)
	assert.True(t, bad.closed)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestSubmitLine(t *testing.T) {
	hub := NewHub(1)
	c := &memClient{}

	err := SubmitLine(context.Background(), hub, []byte(`{"type":"search","id":"1","payload":{"input":"晴天"}}`), ReplyTo(c))
	require.NoError(t, err)
	cmd := <-hub.Commands()
	assert.Equal(t, CmdSearch, cmd.Type)
	assert.Equal(t, "1", cmd.ID)
	assert.JSONEq(t, `{"input":"晴天"}`, string(cmd.Payload))

	cmd.Reply(Event{Type: EventLyricOptions, ID: "1"})
	require.Len(t, c.sent, 1)

	err = SubmitLine(context.Background(), hub, []byte(`not json`), ReplyTo(c))
	assert.Error(t, err)
	err = SubmitLine(context.Background(), hub, []byte(`{"payload":{}}`), ReplyTo(c))
	assert.Error(t, err)
	require.Len(t, c.sent, 3)
	assert.Contains(t, string(c.sent[2]), `"type":"error"`)

	// 队列已满时跟随 ctx 返回
	require.NoError(t, SubmitLine(context.Background(), hub, []byte(`{"type":"lyric"}`), ReplyTo(c)))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = SubmitLine(ctx, hub, []byte(`{"type":"lyric"}`), ReplyTo(c))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServerRoundTrip(t *testing.T) {
	hub := NewHub(4)
	hub.Broadcast(Event{Type: EventLyric, Data: "[00:01.00]故事的小黄花"})

	path := shortSocketPath(t)
	server := NewServer(path, hub)
	require.NoError(t, server.Start(context.Background()))
	defer server.Close()

	lock, err := os.ReadFile(path + ".lock")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(lock))

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	assert.Equal(t, EventLyric, ev.Type)

	_, err = conn.Write([]byte("{\"type\":\"share\",\"payload\":{\"data\":\"https://b23.tv/xxxx\"}}\n"))
	require.NoError(t, err)

	select {
	case cmd := <-hub.Commands():
		assert.Equal(t, CmdShare, cmd.Type)
		cmd.Reply(Event{Type: EventError, ID: "x", Data: "reply"})
	case <-time.After(2 * time.Second):
		t.Fatal("command not received")
	}

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","id":"x","data":"reply"}`, line)

	// 第二个实例拿不到锁
	other := NewServer(path, NewHub(1))
	assert.Error(t, other.Start(context.Background()))
}
