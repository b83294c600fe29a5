package mongo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/Rrens/agent-bridge/internal/repository/mongo"
	"github.com/Rrens/agent-bridge/internal/repository/storetest"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TEST_MONGO_URI points the suite at a MongoDB server; every run uses and
// then drops its own database.
func TestStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T, layout *repository.Layout, clock clockwork.Clock) domain.SessionStore {
		cfg := config.MongoConfig{
			URI:            uri,
			Database:       "agentbridge_test_" + ulid.Make().String(),
			ConnectTimeout: 5 * time.Second,
		}
		store, err := mongo.Connect(context.Background(), cfg, layout, clock)
		require.NoError(t, err)
		t.Cleanup(func() { dropDatabase(t, uri, cfg.Database) })
		return store
	})
}

func dropDatabase(t *testing.T, uri, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := driver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Logf("failed to connect for cleanup: %v", err)
		return
	}
	defer client.Disconnect(ctx)
	if err := client.Database(name).Drop(ctx); err != nil {
		t.Logf("failed to drop %s: %v", name, err)
	}
}
