package i3block

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox-backend/internal/ipc"
)

type signalRecord struct {
	pid int
	sig syscall.Signal
}

func newTestController(t *testing.T, run Runner) (*Controller, *[]signalRecord) {
	t.Helper()
	c := NewController(filepath.Join(t.TempDir(), "lyric_line"), 55, run)
	var sent []signalRecord
	c.kill = func(pid int, sig syscall.Signal) error {
		sent = append(sent, signalRecord{pid, sig})
		return nil
	}
	return c, &sent
}

func TestRefreshPID(t *testing.T) {
	c, _ := newTestController(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name == "pgrep" {
			return []byte("4242\n4243\n"), nil
		}
		return nil, errors.New("unexpected")
	})
	require.NoError(t, c.refreshPID(context.Background()))
	assert.Equal(t, 4242, c.PID())
}

func TestRefreshPIDFallsBackToPs(t *testing.T) {
	ps := "USER PID %CPU\nroot 1 0.0 init\nme 777 0.1 i3blocks -c conf\nme 778 0.0 grep i3blocks\n"
	c, _ := newTestController(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name == "pgrep" {
			return nil, errors.New("exit status 1")
		}
		return []byte(ps), nil
	})
	require.NoError(t, c.refreshPID(context.Background()))
	assert.Equal(t, 777, c.PID())
}

func TestSendWritesLineAndSignals(t *testing.T) {
	c, sent := newTestController(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("99\n"), nil
	})
	require.NoError(t, c.refreshPID(context.Background()))

	hub := ipc.NewHub(1)
	hub.Register(c)
	hub.Broadcast(ipc.Event{Type: ipc.EventLyricLine, Data: "故事的小黄花"})
	hub.Broadcast(ipc.Event{Type: ipc.EventLyricLine, Data: "故事的小黄花"})
	hub.Broadcast(ipc.Event{Type: ipc.EventProgress, Data: 0.5})

	data, err := os.ReadFile(c.file)
	require.NoError(t, err)
	assert.Equal(t, "故事的小黄花\n", string(data))
	assert.Equal(t, []signalRecord{{99, syscall.Signal(55)}}, *sent)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestSendWithoutI3blocks(t *testing.T) {
	c, sent := newTestController(t, nil)
	require.NoError(t, c.Send([]byte(`{"type":"lyric_line","data":"窗外的麻雀"}`)))
	assert.Empty(t, *sent)

	data, err := os.ReadFile(c.file)
	require.NoError(t, err)
	assert.Equal(t, "窗外的麻雀\n", string(data))
}
