package scribelog

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLogger builds a logger with a capture sink and a capture fallback.
func newTestLogger(opts Options) (*Logger, *MemoryTransport, *bytes.Buffer) {
	mem := NewMemoryTransport()
	diag := &bytes.Buffer{}
	opts.Transports = append(opts.Transports, mem)
	opts.Fallback = diag
	return New(opts), mem, diag
}

type failingTransport struct{ calls atomic.Int32 }

func (t *failingTransport) Log(*Record, []byte) error {
	t.calls.Add(1)
	return errors.New("sink unavailable")
}

type panickyTransport struct{}

func (panickyTransport) Log(*Record, []byte) error { panic("sink exploded") }

type closableTransport struct {
	MemoryTransport
	closed bool
}

func (t *closableTransport) Close() error {
	t.closed = true
	return nil
}

func TestThresholdGating(t *testing.T) {
	log, mem, _ := newTestLogger(Options{})

	log.Debug("hidden")
	log.Info("shown")
	log.Error("also shown")

	recs := mem.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "shown", recs[0].Message)
	assert.Equal(t, LevelError, recs[1].Level)
}

func TestUnknownConstructionLevelFallsBack(t *testing.T) {
	log, _, diag := newTestLogger(Options{Level: "loud"})

	assert.Equal(t, DefaultLevel, log.Level())
	assert.Contains(t, diag.String(), `unknown level "loud"`)
}

func TestIsLevelEnabledMatchesDispatch(t *testing.T) {
	log, mem, _ := newTestLogger(Options{Level: LevelWarn})

	for _, level := range []string{LevelError, LevelWarn, LevelInfo, LevelTrace, "bogus"} {
		before := mem.Len()
		log.Log(level, "probe")
		emitted := mem.Len() > before
		assert.Equal(t, log.IsLevelEnabled(level), emitted, level)
	}
}

func TestCustomLevels(t *testing.T) {
	log, mem, _ := newTestLogger(Options{
		Levels: Levels{"verbose": 5},
		Level:  "verbose",
	})

	log.Log("verbose", "custom level record")
	log.Trace("standard levels still work")

	require.Equal(t, 2, mem.Len())
	assert.Equal(t, "verbose", mem.Records()[0].Level)
}

func TestTransportLevelGate(t *testing.T) {
	errOnly := NewMemoryTransportAt(LevelError)
	log, all, _ := newTestLogger(Options{Transports: []Transport{errOnly}})

	log.Warn("not for the strict sink")
	log.Error("for everyone")

	assert.Equal(t, 2, all.Len())
	require.Equal(t, 1, errOnly.Len())
	assert.Equal(t, "for everyone", errOnly.Records()[0].Message)
}

func TestMetaMergeOrder(t *testing.T) {
	log, mem, _ := newTestLogger(Options{DefaultMeta: Fields{"a": "default", "b": "default"}})

	log.Info("call meta wins over defaults", Fields{"b": "call", "c": "call"})
	log.LogEntry(Record{Level: LevelInfo, Message: "record wins over both", Fields: Fields{"a": "record"}})

	recs := mem.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, Fields{"a": "default", "b": "call", "c": "call"}, recs[0].Fields)
	assert.Equal(t, "record", recs[1].Fields["a"])
	assert.Equal(t, "default", recs[1].Fields["b"])
}

func TestSplatAndMetaThroughLog(t *testing.T) {
	log, mem, _ := newTestLogger(Options{})

	log.Info("port %d open", 8080, Fields{"proto": "tcp"})

	recs := mem.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, []any{8080}, recs[0].Splat)
	assert.Equal(t, "tcp", recs[0].Fields["proto"])
}

func TestErrorMessagePromotion(t *testing.T) {
	log, mem, _ := newTestLogger(Options{})
	boom := errors.New("disk full")

	log.Error(boom)

	recs := mem.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "disk full", recs[0].Message)
	assert.Same(t, boom, recs[0].Err)
}

func TestLogEntryStampsZeroTime(t *testing.T) {
	log, mem, _ := newTestLogger(Options{})

	log.LogEntry(Record{Level: LevelInfo, Message: "m"})

	require.Equal(t, 1, mem.Len())
	assert.False(t, mem.Records()[0].Time.IsZero())
}

func TestLogCtxAttachesRequestID(t *testing.T) {
	log, mem, _ := newTestLogger(Options{})
	ctx, id := EnsureRequestID(context.Background())

	log.LogCtx(ctx, LevelInfo, "with id")
	log.LogCtx(ctx, LevelInfo, "caller wins", Fields{requestIDField: "explicit"})
	log.LogCtx(context.Background(), LevelInfo, "without id")

	recs := mem.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, id, recs[0].Fields[requestIDField])
	assert.Equal(t, "explicit", recs[1].Fields[requestIDField])
	_, present := recs[2].Fields[requestIDField]
	assert.False(t, present)
}

func TestSamplerDropsRecords(t *testing.T) {
	log, mem, _ := newTestLogger(Options{
		Sampler: func(rec *Record) bool { return rec.Level != LevelInfo },
	})

	log.Info("sampled out")
	log.Warn("kept")

	require.Equal(t, 1, mem.Len())
	assert.Equal(t, "kept", mem.Records()[0].Message)
}

func TestSamplerSeesMergedRecord(t *testing.T) {
	log, mem, _ := newTestLogger(Options{
		DefaultMeta: Fields{"tenant": "acme"},
		Sampler:     func(rec *Record) bool { return rec.Fields["tenant"] == "acme" },
	})

	log.Info("admitted by merged metadata")

	assert.Equal(t, 1, mem.Len())
}

func TestSamplerPanicLogsAnyway(t *testing.T) {
	log, mem, diag := newTestLogger(Options{
		Sampler: func(rec *Record) bool { panic("sampler bug") },
	})

	log.Info("must survive")

	require.Equal(t, 1, mem.Len(), "a broken sampler must never suppress records")
	assert.Contains(t, diag.String(), "sampler panic")
}

func TestRateLimitCapsBurst(t *testing.T) {
	log, mem, _ := newTestLogger(Options{RateLimit: &RateLimit{MaxPerSecond: 3}})

	for i := 0; i < 10; i++ {
		log.Info("burst")
	}

	assert.Equal(t, 3, mem.Len())
}

func TestUpdateOptionsReArmsRateLimit(t *testing.T) {
	log, mem, _ := newTestLogger(Options{RateLimit: &RateLimit{MaxPerSecond: 1}})

	log.Info("first")
	log.Info("dropped")
	require.Equal(t, 1, mem.Len())

	log.UpdateOptions(Options{RateLimit: &RateLimit{MaxPerSecond: 1}})
	log.Info("admitted by the fresh window")

	assert.Equal(t, 2, mem.Len())
}

func TestTransportFailureIsolation(t *testing.T) {
	failing := &failingTransport{}
	log, mem, diag := newTestLogger(Options{Transports: []Transport{failing}})

	log.Info("survives a broken sink")

	assert.EqualValues(t, 1, failing.calls.Load())
	assert.Equal(t, 1, mem.Len(), "later transports still receive the record")
	assert.Contains(t, diag.String(), "transport error")
}

func TestTransportPanicIsolation(t *testing.T) {
	log, mem, diag := newTestLogger(Options{Transports: []Transport{panickyTransport{}}})

	log.Info("survives a panicking sink")

	assert.Equal(t, 1, mem.Len())
	assert.Contains(t, diag.String(), "transport panic")
}

func TestPerTransportFormat(t *testing.T) {
	logfmtSink := NewMemoryTransport()
	logfmtSink.format = FormatLogfmt()
	log, jsonSink, _ := newTestLogger(Options{Transports: []Transport{logfmtSink}})

	log.Info("dual rendering")

	require.Equal(t, 1, logfmtSink.Len())
	require.Equal(t, 1, jsonSink.Len())
	assert.Contains(t, string(logfmtSink.Lines()[0]), "msg=\"dual rendering\"")
	assert.Contains(t, string(jsonSink.Lines()[0]), `"message":"dual rendering"`)
}

func TestSetLevelUnknownRetains(t *testing.T) {
	log, _, diag := newTestLogger(Options{Level: LevelWarn})

	log.SetLevel("loud")

	assert.Equal(t, LevelWarn, log.Level())
	assert.Contains(t, diag.String(), `unknown level "loud"`)
}

func TestUpdateOptionsPartialBatch(t *testing.T) {
	log, mem, diag := newTestLogger(Options{DefaultMeta: Fields{"env": "prod", "zone": "a"}})

	// Invalid level in the batch warns; the rest of the batch still applies.
	log.UpdateOptions(Options{
		Level:       "bogus",
		DefaultMeta: Fields{"zone": "b"},
		Levels:      Levels{"x": 9},
	})

	assert.Equal(t, DefaultLevel, log.Level())
	assert.Contains(t, diag.String(), `unknown level "bogus"`)
	assert.Contains(t, diag.String(), "ignoring Levels update")

	log.Info("after update")
	recs := mem.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "prod", recs[0].Fields["env"], "merge keeps untouched defaults")
	assert.Equal(t, "b", recs[0].Fields["zone"], "merge replaces updated defaults")
}

func TestUpdateOptionsReplacesTransports(t *testing.T) {
	log, old, _ := newTestLogger(Options{})
	fresh := NewMemoryTransport()

	log.UpdateOptions(Options{Transports: []Transport{fresh}})
	log.Info("rerouted")

	assert.Equal(t, 0, old.Len())
	assert.Equal(t, 1, fresh.Len())
}

func TestAddRemoveTransport(t *testing.T) {
	log, mem, _ := newTestLogger(Options{})
	extra := NewMemoryTransport()

	log.AddTransport(extra)
	log.Info("both")
	log.RemoveTransport(extra)
	log.RemoveTransport(extra) // non-member removal is a no-op
	log.Info("one")

	assert.Equal(t, 2, mem.Len())
	assert.Equal(t, 1, extra.Len())
}

func TestChildMetadataAndSharing(t *testing.T) {
	log, mem, _ := newTestLogger(Options{DefaultMeta: Fields{"app": "demo", "component": "root"}})
	child := log.Child(Fields{"component": "worker"})

	child.Info("from the child")

	recs := mem.Records()
	require.Len(t, recs, 1, "children forward through the parent's transports")
	assert.Equal(t, "demo", recs[0].Fields["app"])
	assert.Equal(t, "worker", recs[0].Fields["component"], "child meta wins on conflict")
}

func TestChildLevelIndependent(t *testing.T) {
	log, mem, _ := newTestLogger(Options{})
	child := log.Child(nil)
	child.SetLevel(LevelDebug)

	child.Debug("visible on the child")
	log.Debug("still hidden on the parent")

	assert.Equal(t, 1, mem.Len())
	assert.Equal(t, DefaultLevel, log.Level())
}

func TestChildSeesTransportChanges(t *testing.T) {
	log, _, _ := newTestLogger(Options{})
	child := log.Child(nil)
	extra := NewMemoryTransport()

	// Adding through the child is visible to the parent: one sink set per tree.
	child.AddTransport(extra)
	log.Info("parent record")

	assert.Equal(t, 1, extra.Len())
}

func TestCloseClosesClosableTransports(t *testing.T) {
	closable := &closableTransport{}
	log, _, _ := newTestLogger(Options{Transports: []Transport{closable}})

	require.NoError(t, log.Close())

	assert.True(t, closable.closed)
}
