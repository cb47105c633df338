package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type labelled struct {
	Name string `json:"name"`
}

func (l labelled) Attributes() map[string]string {
	return map[string]string{"kind": "price_decreased"}
}

func fakeServer(t *testing.T, topics ...string) (*pstest.Server, []option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	for _, topic := range topics {
		_, err := srv.GServer.CreateTopic(context.Background(), &pubsubpb.Topic{Name: topicName("proj", topic)})
		require.NoError(t, err)
	}
	return srv, []option.ClientOption{option.WithGRPCConn(conn)}
}

func TestPublishJSONWithAttributes(t *testing.T) {
	t.Parallel()

	srv, opts := fakeServer(t, "alerts")
	pub, err := Open(context.Background(), "proj", "alerts", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pub.Close()) })

	id, err := pub.Publish(context.Background(), "alerts", labelled{Name: "Kettle"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got labelled
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "Kettle", got.Name)
	require.Equal(t, "price_decreased", msgs[0].Attributes["kind"])
}

func TestOpenMissingTopic(t *testing.T) {
	t.Parallel()

	_, opts := fakeServer(t)
	_, err := Open(context.Background(), "proj", "absent", opts...)
	require.Error(t, err)
}

func TestOpenRequiresNames(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "alerts")
	require.Error(t, err)
}

func TestPublishUnconfigured(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "alerts", "x")
	require.Error(t, err)
}

func TestPublishUnmarshalable(t *testing.T) {
	t.Parallel()

	_, opts := fakeServer(t, "alerts")
	pub, err := Open(context.Background(), "proj", "alerts", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	_, err = pub.Publish(context.Background(), "alerts", make(chan int))
	require.Error(t, err)
}
