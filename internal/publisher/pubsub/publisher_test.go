package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	srv, client := newFakeClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "syncs")
	require.NoError(t, err)

	pub, err := New(client, "syncs")
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	id, err := pub.Publish(ctx, "", map[string]any{"type": "sync.completed", "records": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, "sync.completed", body["type"])
	assert.InDelta(t, 3, body["records"], 0)
}

func TestPublishInjectsTraceContext(t *testing.T) {
	t.Parallel()

	srv, client := newFakeClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "traced")
	require.NoError(t, err)

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx = trace.ContextWithSpanContext(ctx, sc)

	attrs := make(map[string]string)
	propagation.TraceContext{}.Inject(ctx, &attributeCarrier{attrs: attrs})
	assert.Equal(t, "00-0102030405060708090a0b0c0d0e0f10-0102030405060708-01", attrs["traceparent"])

	pub, err := New(client, "")
	require.NoError(t, err)
	_, err = pub.Publish(ctx, "traced", "payload")
	require.NoError(t, err)
	require.Len(t, srv.Messages(), 1)
}

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	_, client := newFakeClient(t)
	pub, err := New(client, "")
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = New(nil, "x")
	require.Error(t, err)
}

func TestPublishUnknownTopicFails(t *testing.T) {
	t.Parallel()

	_, client := newFakeClient(t)
	pub, err := New(client, "missing")
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)
}

func TestDialChecksTopic(t *testing.T) {
	t.Parallel()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = Dial(context.Background(), "test-project", "absent", option.WithGRPCConn(conn))
	require.Error(t, err)

	_, err = Dial(context.Background(), "", "absent")
	require.Error(t, err)
}
