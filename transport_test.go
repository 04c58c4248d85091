package scribelog

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterTransportWrites(t *testing.T) {
	var buf bytes.Buffer
	wt := NewWriterTransport(&buf, "", nil)

	require.NoError(t, wt.Log(&Record{}, []byte("line\n")))
	assert.Equal(t, "line\n", buf.String())
}

func TestWriterTransportNilWriter(t *testing.T) {
	wt := NewWriterTransport(nil, "", nil)
	assert.Error(t, wt.Log(&Record{}, []byte("x")))
}

func TestMemoryTransportSnapshotsAreCopies(t *testing.T) {
	mem := NewMemoryTransport()
	rec := &Record{Level: LevelInfo, Message: "m", Fields: Fields{"a": 1}}
	require.NoError(t, mem.Log(rec, []byte("l")))

	rec.Fields["a"] = 2
	assert.Equal(t, 1, mem.Records()[0].Fields["a"], "the sink captured a copy")
}

func TestBufferedTransportDropsOldest(t *testing.T) {
	mem := NewMemoryTransport()
	bt := NewBufferedTransport(mem, 4)
	var droppedMessages []string
	bt.OnDrop(func(rec *Record) { droppedMessages = append(droppedMessages, rec.Message) })

	// The worker is deliberately not started: everything stays queued so the
	// eviction order is deterministic.
	const produced = 10
	for i := 0; i < produced; i++ {
		require.NoError(t, bt.Log(&Record{Message: fmt.Sprintf("m%d", i)}, nil))
	}

	queued := bt.queued()
	require.Len(t, queued, 4)
	assert.EqualValues(t, produced-4, bt.Dropped())
	assert.Equal(t, produced, int(bt.Dropped())+len(queued), "dropped + retained = produced")

	// Most recent entries survive; the oldest were evicted in order.
	assert.Equal(t, "m6", queued[0].rec.Message)
	assert.Equal(t, "m9", queued[3].rec.Message)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4", "m5"}, droppedMessages)
}

func TestBufferedTransportCloseDrains(t *testing.T) {
	mem := NewMemoryTransport()
	bt := NewBufferedTransport(mem, 8)

	for i := 0; i < 3; i++ {
		require.NoError(t, bt.Log(&Record{Message: fmt.Sprintf("m%d", i)}, []byte("x")))
	}
	require.NoError(t, bt.Close())

	assert.Equal(t, 3, mem.Len(), "queued entries are flushed on close")
	assert.Error(t, bt.Log(&Record{}, nil), "a closed transport rejects writes")
	assert.NoError(t, bt.Close(), "close is idempotent")
}

func TestBufferedTransportWorkerForwards(t *testing.T) {
	mem := NewMemoryTransport()
	bt := NewBufferedTransport(mem, 8).Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, bt.Log(&Record{Message: "m"}, nil))
	}
	require.NoError(t, bt.Close()) // waits for the worker to drain

	assert.Equal(t, 5, mem.Len())
	assert.Zero(t, bt.Dropped())
}

func TestBufferedTransportClosesWrapped(t *testing.T) {
	inner := &closableTransport{}
	bt := NewBufferedTransport(inner, 2)

	require.NoError(t, bt.Close())
	assert.True(t, inner.closed)
}
