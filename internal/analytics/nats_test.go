package analytics

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATS_EmitterToConsumer(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	now := midHour()
	agg, _ := newSQLiteAggregator(t, now)

	consumer, err := Subscribe(nc, "", agg)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	emitter := NewNATSEmitter(nc, "")
	ev := testEvent("val-nats", now)
	emitter.Emit(context.Background(), ev)
	emitter.Emit(context.Background(), ev)
	second := testEvent("val-nats-2", now)
	emitter.Emit(context.Background(), second)
	require.NoError(t, emitter.Close())

	require.Eventually(t, func() bool {
		eff, err := agg.Effectiveness(context.Background(), ev.RuleID, Window1h, false)
		return err == nil && eff.TriggerCount == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, consumer.Close())
}

func TestNATS_DecodeFailureIsCounted(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	rec := &recordingRecorder{}
	consumer, err := Subscribe(nc, "test.subject", rec)
	require.NoError(t, err)
	defer consumer.Close()

	require.NoError(t, nc.Publish("test.subject", []byte("{not json")))
	require.NoError(t, nc.Flush())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}
