//go:build integration

package mongo_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/signoff/store"
	"github.com/xraph/signoff/store/mongo"
	"github.com/xraph/signoff/store/storetest"
)

// setupClient starts a MongoDB container and returns a connected client.
func setupClient(t *testing.T) *mongod.Client {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	if err != nil {
		t.Fatalf("get endpoint: %v", err)
	}
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client
}

func TestConformance(t *testing.T) {
	client := setupClient(t)
	quiet := mongo.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	n := 0
	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		n++
		s := mongo.NewFromDatabase(client.Database(fmt.Sprintf("signoff_test_%d", n)), quiet)
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}
