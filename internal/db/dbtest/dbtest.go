// Package dbtest hands integration tests a MongoDB database of their own.
//
// MONGODB_URI points the tests at an existing server. Otherwise, when
// FIELDSYNC_TESTCONTAINERS=1, a mongo:7 container is started once per test
// binary. With neither set the calling test is skipped.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/PaulBabatuyi/fieldsync/internal/db"
)

var (
	containerOnce sync.Once
	containerURI  string
	containerErr  error
)

// Connect returns a client bound to a fresh database that is dropped when
// the test finishes.
func Connect(t *testing.T) *db.Client {
	t.Helper()

	uri := os.Getenv("MONGODB_URI")
	if uri == "" && os.Getenv("FIELDSYNC_TESTCONTAINERS") == "1" {
		containerOnce.Do(func() { containerURI, containerErr = startContainer() })
		if containerErr != nil {
			t.Fatalf("start mongo container: %v", containerErr)
		}
		uri = containerURI
	}
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	if len(name) > 40 {
		name = name[:40]
	}
	dbName := fmt.Sprintf("fs_%s_%d", name, time.Now().UnixNano()%1e6)

	ctx := context.Background()
	c, err := db.New(ctx, uri, dbName, 10*time.Second)
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}

	t.Cleanup(func() {
		_ = c.Drop(context.Background())
		_ = c.Close(context.Background())
	})
	return c
}

// startContainer launches mongo:7. The container lives until the test
// binary exits; ryuk reaps it afterwards.
func startContainer() (string, error) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port()), nil
}
