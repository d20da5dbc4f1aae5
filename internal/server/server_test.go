package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/replicant/internal/change"
	"github.com/rcowham/replicant/internal/transport"
	"github.com/rcowham/replicant/internal/transport/local"
)

func newServerAndSocket(t *testing.T) (*Server, *local.Hub, transport.Socket) {
	t.Helper()
	hub := local.NewHub()
	s, err := New(hub, Options{})
	require.NoError(t, err)
	sock := hub.Connect()
	return s, hub, sock
}

func ack(t *testing.T, sock transport.Socket, event string, args ...any) []any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := sock.EmitWithAck(ctx, event, args...)
	require.NoError(t, err)
	return reply
}

func TestRegisterCreatesAndJoinsRoom(t *testing.T) {
	s, _, sock := newServerAndSocket(t)
	ack(t, sock, "replicantRegister", "doc1")

	reply := ack(t, sock, "replicantGet", "doc1")
	require.Len(t, reply, 2)
	assert.Empty(t, reply[0])
	assert.Nil(t, reply[1])

	_, ok := s.replicants["doc1"]
	assert.True(t, ok)
}

func TestGetLazilyCreatesWithoutRegister(t *testing.T) {
	_, _, sock := newServerAndSocket(t)
	reply := ack(t, sock, "replicantGet", "never-registered")
	require.Len(t, reply, 2)
	assert.Empty(t, reply[0])
	assert.Nil(t, reply[1])
}

func TestSetOnColdReplicantIsAccepted(t *testing.T) {
	_, _, sock := newServerAndSocket(t)
	reply := ack(t, sock, "replicantSet", "doc1", []string{}, map[string]any{"a": 1})
	require.Len(t, reply, 1)
	assert.Equal(t, true, reply[0])

	got := ack(t, sock, "replicantGet", "doc1")
	assert.Equal(t, map[string]any{"a": 1}, got[1])
	history, ok := got[0].([]string)
	require.True(t, ok)
	require.Len(t, history, 1)
}

func TestSetWithStaleParentIsRejected(t *testing.T) {
	_, _, sock := newServerAndSocket(t)
	ack(t, sock, "replicantSet", "doc1", []string{}, map[string]any{"a": 1})

	reply := ack(t, sock, "replicantSet", "doc1", []string{"not-a-real-parent"}, map[string]any{"a": 2})
	assert.Equal(t, false, reply[0])

	got := ack(t, sock, "replicantGet", "doc1")
	assert.Equal(t, map[string]any{"a": 1}, got[1])
}

func TestChangedAcceptsWhenParentMatchesHead(t *testing.T) {
	_, _, sock := newServerAndSocket(t)
	setReply := ack(t, sock, "replicantSet", "doc1", []string{}, map[string]any{"a": 1})
	require.Equal(t, true, setReply[0])

	got := ack(t, sock, "replicantGet", "doc1")
	history := got[0].([]string)
	require.Len(t, history, 1)
	head := history[0]

	cs := []change.Change{{Type: change.Update, Path: "a", NewValue: 2, OldValue: 1}}
	reply := ack(t, sock, "replicantChanged", "doc1", []string{"claimed-new-head", head}, cs)
	assert.Equal(t, true, reply[0])

	got = ack(t, sock, "replicantGet", "doc1")
	assert.Equal(t, map[string]any{"a": float64(2)}, normalizeInts(got[1]))
}

func TestChangedRejectsWhenParentIsStale(t *testing.T) {
	_, _, sock := newServerAndSocket(t)
	ack(t, sock, "replicantSet", "doc1", []string{}, map[string]any{"a": 1})

	cs := []change.Change{{Type: change.Update, Path: "a", NewValue: 2, OldValue: 1}}
	reply := ack(t, sock, "replicantChanged", "doc1", []string{"claimed-new-head", "stale-parent"}, cs)
	assert.Equal(t, false, reply[0])
}

func TestSetMulticastsReplicantSetToRoom(t *testing.T) {
	hub := local.NewHub()
	_, err := New(hub, Options{})
	require.NoError(t, err)

	writer := hub.Connect()
	observerSock := hub.Connect()

	ack(t, writer, "replicantRegister", "doc1")
	ack(t, observerSock, "replicantRegister", "doc1")

	var gotEvent string
	var gotArgs []any
	observerSock.On("replicantSet", func(args []any, _ transport.AckFunc) {
		gotEvent = "replicantSet"
		gotArgs = args
	})

	reply := ack(t, writer, "replicantSet", "doc1", []string{}, map[string]any{"a": 1})
	require.Equal(t, true, reply[0])

	assert.Equal(t, "replicantSet", gotEvent)
	require.Len(t, gotArgs, 3)
	assert.Equal(t, "doc1", gotArgs[0])
	assert.Equal(t, map[string]any{"a": 1}, gotArgs[2])
}

func normalizeInts(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := map[string]any{}
	for k, val := range m {
		if i, ok := val.(int); ok {
			out[k] = float64(i)
			continue
		}
		out[k] = val
	}
	return out
}
