package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/replicant/internal/replicant"
	"github.com/rcowham/replicant/internal/server"
	"github.com/rcowham/replicant/internal/transport/local"
)

// TestEchoDoesNotReboundToOriginatingClient exercises spec.md §8
// property 6: a client's own accepted write comes back over the wire
// as a suppressed overwrite, never re-entering Update and re-pushing.
func TestEchoDoesNotReboundToOriginatingClient(t *testing.T) {
	hub := local.NewHub()
	_, err := server.New(hub, server.Options{})
	require.NoError(t, err)

	sock := hub.Connect()
	c, err := New(sock, Options{})
	require.NoError(t, err)

	r := c.GetReplicant("doc1")
	waitReady(t, c, "doc1")

	pushes := 0
	r.Update(func(v any) any {
		pushes++
		return map[string]any{"a": 1}
	})

	assert.Eventually(t, func() bool {
		m, ok := r.Value().(map[string]any)
		return ok && m["a"] == 1
	}, time.Second, 5*time.Millisecond)

	// Give the broadcast replicantSet a moment to arrive and be applied
	// through the suppressed path; it must not trigger another Update.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, pushes)
}

// TestThreeWayConvergence exercises spec.md §8 scenario 2/6: three
// clients converge to the same value and revision after interleaved
// writes.
func TestThreeWayConvergence(t *testing.T) {
	hub := local.NewHub()
	_, err := server.New(hub, server.Options{})
	require.NoError(t, err)

	mkClient := func() (*Client, *replicant.Replicant) {
		sock := hub.Connect()
		c, err := New(sock, Options{})
		require.NoError(t, err)
		r := c.GetReplicant("doc1")
		waitReady(t, c, "doc1")
		return c, r
	}

	_, r1 := mkClient()
	_, r2 := mkClient()
	_, r3 := mkClient()

	r1.Update(func(v any) any { return map[string]any{"count": 1} })
	assert.Eventually(t, func() bool {
		m, ok := r3.Value().(map[string]any)
		return ok && m["count"] == 1
	}, time.Second, 5*time.Millisecond)

	r2.Update(func(v any) any {
		m := v.(map[string]any)
		m["count"] = 2
		return m
	})
	assert.Eventually(t, func() bool {
		m1, ok1 := r1.Value().(map[string]any)
		m3, ok3 := r3.Value().(map[string]any)
		return ok1 && ok3 && m1["count"] == 2 && m3["count"] == 2
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return r1.Revision() == r2.Revision() && r2.Revision() == r3.Revision()
	}, time.Second, 5*time.Millisecond)
}

// TestReconnectedResynchronizesAllReplicants exercises SPEC_FULL.md
// §4.7.1's reconnection handling: every replicant the client holds is
// re-fetched from the server, not just the one most recently touched.
func TestReconnectedResynchronizesAllReplicants(t *testing.T) {
	hub := local.NewHub()
	_, err := server.New(hub, server.Options{})
	require.NoError(t, err)

	writerSock := hub.Connect()
	writer, err := New(writerSock, Options{})
	require.NoError(t, err)
	wa := writer.GetReplicant("a")
	waitReady(t, writer, "a")
	wb := writer.GetReplicant("b")
	waitReady(t, writer, "b")
	wa.Update(func(v any) any { return map[string]any{"v": "a1"} })
	wb.Update(func(v any) any { return map[string]any{"v": "b1"} })

	readerSock := hub.Connect()
	reader, err := New(readerSock, Options{})
	require.NoError(t, err)
	ra := reader.GetReplicant("a")
	rb := reader.GetReplicant("b")
	waitReady(t, reader, "a")
	waitReady(t, reader, "b")

	assert.Eventually(t, func() bool {
		ma, oka := ra.Value().(map[string]any)
		mb, okb := rb.Value().(map[string]any)
		return oka && okb && ma["v"] == "a1" && mb["v"] == "b1"
	}, time.Second, 5*time.Millisecond)

	reader.Reconnected()

	assert.Eventually(t, func() bool {
		ma, oka := ra.Value().(map[string]any)
		mb, okb := rb.Value().(map[string]any)
		return oka && okb && ma["v"] == "a1" && mb["v"] == "b1"
	}, time.Second, 5*time.Millisecond)
}
