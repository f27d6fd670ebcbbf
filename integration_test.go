package pgadapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/objectstack/pgadapter/document"
	"github.com/objectstack/pgadapter/logger"
	"github.com/objectstack/pgadapter/schema"
)

// PostgresContainer represents a Postgres container for testing
type PostgresContainer struct {
	testcontainers.Container
	ConnectionString string
	Config           Config
	Host             string
	Port             string
}

// setupPostgresContainer sets up a Postgres container for testing
func setupPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	// Get a random free port
	port, err := getFreePort()
	if err != nil {
		return nil, fmt.Errorf("could not get free port: %w", err)
	}

	portStr := fmt.Sprintf("%d", port)
	portBindings := nat.PortMap{
		"5432/tcp": []nat.PortBinding{{HostPort: portStr}},
	}

	req := testcontainers.ContainerRequest{
		Image: "postgres:15",
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		ExposedPorts: []string{"5432/tcp"},
		HostConfigModifier: func(cfg *container.HostConfig) {
			cfg.PortBindings = portBindings
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	// Double-check port mapping (could be different from requested)
	mappedPort, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	portStr = mappedPort.Port()

	err = waitForPostgresReady(host, portStr, "testuser", "testpass", "testdb", 30*time.Second)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("postgres container not ready: %w", err)
	}

	config := Config{
		Connection: Connection{
			Host:     host,
			Port:     portStr,
			User:     "testuser",
			Password: "testpass",
			DbName:   "testdb",
			SSLMode:  "disable",
		},
	}

	return &PostgresContainer{
		Container:        pgContainer,
		ConnectionString: config.ConnString(),
		Config:           config,
		Host:             host,
		Port:             portStr,
	}, nil
}

// getFreePort gets a free port from the OS
func getFreePort() (int, error) {
	addr, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer func(addr net.Listener) {
		err := addr.Close()
		if err != nil {
			fmt.Printf("Failed to close listener: %v", err)
		}
	}(addr)

	return addr.Addr().(*net.TCPAddr).Port, nil
}

// waitForPostgresReady attempts to connect to PostgreSQL until it's ready or times out
func waitForPostgresReady(host, port, user, password, dbname string, timeout time.Duration) error {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	startTime := time.Now()
	for {
		if time.Since(startTime) > timeout {
			return fmt.Errorf("timed out waiting for PostgreSQL to be ready after %s", timeout)
		}

		db, err := sql.Open("postgres", connStr)
		if err != nil {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		err = db.Ping()
		if err == nil {
			err = db.Close()
			if err != nil {
				return fmt.Errorf("error closing database connection: %w", err)
			}
			return nil
		}

		_ = db.Close()
		time.Sleep(500 * time.Millisecond)
	}
}

// TestMain sets up the testing environment
func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}

func playerTestSchema() *schema.Schema {
	return &schema.Schema{
		ClassName: "Player",
		Fields: map[string]schema.FieldType{
			"objectId": {Type: schema.TypeString},
			"name":     {Type: schema.TypeString},
			"score":    {Type: schema.TypeNumber},
			"active":   {Type: schema.TypeBoolean},
			"tags":     {Type: schema.TypeArray},
			"profile":  {Type: schema.TypeObject},
			"joinedAt": {Type: schema.TypeDate},
		},
	}
}

// TestAdapterWithFXModule exercises the adapter end to end against a real
// PostgreSQL instance, assembled through the FX module.
func TestAdapterWithFXModule(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := setupPostgresContainer(ctx)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	t.Logf("Using PostgreSQL on %s:%s", pgContainer.Host, pgContainer.Port)

	var adapter *Adapter
	app := fxtest.New(t,
		fx.Provide(
			func() Config {
				return pgContainer.Config
			},
			func() *logger.Logger {
				return logger.NewNop()
			},
		),
		FXModule,
		fx.Populate(&adapter),
	)

	err = app.Start(ctx)
	require.NoError(t, err)

	require.NotNil(t, adapter)
	require.NoError(t, adapter.Ping(ctx))

	playerSchema := playerTestSchema()

	t.Run("SchemaLifecycle", func(t *testing.T) {
		created, err := adapter.CreateClass(ctx, playerSchema)
		require.NoError(t, err)
		assert.Equal(t, "Player", created.ClassName)

		exists, err := adapter.ClassExists(ctx, "Player")
		require.NoError(t, err)
		assert.True(t, exists)

		// Creating the same class twice is a duplicate
		_, err = adapter.CreateClass(ctx, playerSchema)
		assert.ErrorIs(t, err, ErrDuplicateClass)

		// The stored schema round-trips through the metadata table
		stored, err := adapter.GetClass(ctx, "Player")
		require.NoError(t, err)
		assert.Equal(t, "Player", stored.ClassName)
		assert.Equal(t, schema.TypeNumber, stored.Fields["score"].Type)

		all, err := adapter.GetAllClasses(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)

		_, err = adapter.GetClass(ctx, "NoSuchClass")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("AddField", func(t *testing.T) {
		err := adapter.AddFieldIfNotExists(ctx, "Player", "rank", schema.FieldType{Type: schema.TypeNumber})
		require.NoError(t, err)
		playerSchema.Fields["rank"] = schema.FieldType{Type: schema.TypeNumber}

		// A field already recorded in metadata is rejected
		err = adapter.AddFieldIfNotExists(ctx, "Player", "rank", schema.FieldType{Type: schema.TypeNumber})
		assert.Error(t, err)

		stored, err := adapter.GetClass(ctx, "Player")
		require.NoError(t, err)
		assert.Equal(t, schema.TypeNumber, stored.Fields["rank"].Type)
	})

	t.Run("CRUDOperations", func(t *testing.T) {
		err := adapter.CreateObject(ctx, "Player", playerSchema, document.Document{
			"objectId": "p1",
			"name":     "Ada",
			"score":    float64(10),
			"active":   true,
			"tags":     []interface{}{"alpha", "beta"},
			"profile":  map[string]interface{}{"city": "Berlin"},
			"joinedAt": map[string]interface{}{"__type": "Date", "iso": "2024-06-01T12:00:00.000Z"},
		})
		require.NoError(t, err)

		err = adapter.CreateObject(ctx, "Player", playerSchema, document.Document{
			"objectId": "p2",
			"name":     "Grace",
			"score":    float64(25),
			"active":   false,
		})
		require.NoError(t, err)

		// Find by equality
		docs, err := adapter.Find(ctx, "Player", playerSchema,
			map[string]interface{}{"name": "Ada"}, FindOptions{})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "p1", docs[0]["objectId"])
		assert.Equal(t, float64(10), docs[0]["score"])
		assert.Equal(t, map[string]interface{}{"city": "Berlin"}, docs[0]["profile"])
		joined, ok := docs[0]["joinedAt"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "Date", joined["__type"])
		assert.Equal(t, "2024-06-01T12:00:00.000Z", joined["iso"])

		// Case-insensitive find folds string equality
		docs, err = adapter.Find(ctx, "Player", playerSchema,
			map[string]interface{}{"name": "ada"}, FindOptions{CaseInsensitive: true})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "p1", docs[0]["objectId"])

		// Find with comparator, sort, limit
		docs, err = adapter.Find(ctx, "Player", playerSchema,
			map[string]interface{}{"score": map[string]interface{}{"$gt": float64(5)}},
			FindOptions{Sort: map[string]int{"score": -1}, Limit: 1})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "p2", docs[0]["objectId"])

		// Key projection always carries objectId
		docs, err = adapter.Find(ctx, "Player", playerSchema,
			map[string]interface{}{}, FindOptions{Keys: []string{"name"}})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		for _, doc := range docs {
			assert.Contains(t, doc, "objectId")
			assert.Contains(t, doc, "name")
			assert.NotContains(t, doc, "score")
		}

		// Update with an increment operator
		updated, err := adapter.UpdateObjectsByQuery(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "p1"},
			map[string]interface{}{"score": map[string]interface{}{"__op": "Increment", "amount": float64(5)}})
		require.NoError(t, err)
		require.Len(t, updated, 1)
		assert.Equal(t, float64(15), updated[0]["score"])

		// Dotted-path update merges into the stored object
		_, err = adapter.UpdateObjectsByQuery(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "p1"},
			map[string]interface{}{"profile.country": "DE"})
		require.NoError(t, err)
		docs, err = adapter.Find(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "p1"}, FindOptions{})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, map[string]interface{}{"city": "Berlin", "country": "DE"},
			docs[0]["profile"])

		// FindOneAndUpdate on a miss
		_, err = adapter.FindOneAndUpdate(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "missing"},
			map[string]interface{}{"score": float64(0)})
		assert.ErrorIs(t, err, ErrObjectNotFound)

		// Count
		count, err := adapter.Count(ctx, "Player", playerSchema, map[string]interface{}{}, false)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		count, err = adapter.Count(ctx, "Player", playerSchema,
			map[string]interface{}{"active": true}, false)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		// Distinct
		values, err := adapter.Distinct(ctx, "Player", playerSchema,
			map[string]interface{}{}, "name")
		require.NoError(t, err)
		assert.ElementsMatch(t, []interface{}{"Ada", "Grace"}, values)

		// A field that never became a column yields an empty list, not an
		// error.
		values, err = adapter.Distinct(ctx, "Player", playerSchema,
			map[string]interface{}{}, "nickname")
		require.NoError(t, err)
		assert.Empty(t, values)

		deleted, err := adapter.DeleteObjectsByQuery(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "p2"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = adapter.DeleteObjectsByQuery(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "p2"})
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("Aggregate", func(t *testing.T) {
		err := adapter.CreateObject(ctx, "Player", playerSchema, document.Document{
			"objectId": "p3", "name": "Ada", "score": float64(30), "active": true,
		})
		require.NoError(t, err)

		docs, err := adapter.Aggregate(ctx, "Player", playerSchema, []map[string]interface{}{
			{"$group": map[string]interface{}{
				"_id":   "$name",
				"total": map[string]interface{}{"$sum": 1},
			}},
		})
		require.NoError(t, err)
		totals := map[string]int64{}
		for _, doc := range docs {
			totals[doc["objectId"].(string)] = doc["total"].(int64)
		}
		assert.Equal(t, int64(2), totals["Ada"])

		_, err = adapter.DeleteObjectsByQuery(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "p3"})
		require.NoError(t, err)
	})

	t.Run("CreateObjectProvisionsMissingTable", func(t *testing.T) {
		gameSchema := &schema.Schema{
			ClassName: "Game",
			Fields: map[string]schema.FieldType{
				"objectId": {Type: schema.TypeString},
				"title":    {Type: schema.TypeString},
			},
		}
		err := adapter.CreateObject(ctx, "Game", gameSchema, document.Document{
			"objectId": "g1", "title": "chess",
		})
		require.NoError(t, err)

		exists, err := adapter.ClassExists(ctx, "Game")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Uniqueness", func(t *testing.T) {
		err := adapter.EnsureUniqueness(ctx, "Player", []string{"name"})
		require.NoError(t, err)

		err = adapter.CreateObject(ctx, "Player", playerSchema, document.Document{
			"objectId": "p4", "name": "Ada",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateValue)
		var dup *DuplicateValueError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "name", dup.Field)

		// Idempotent
		assert.NoError(t, adapter.EnsureUniqueness(ctx, "Player", []string{"name"}))
	})

	t.Run("Indexes", func(t *testing.T) {
		err := adapter.EnsureIndex(ctx, "Player", playerSchema, []string{"score"}, "", false)
		require.NoError(t, err)

		names, err := adapter.GetIndexes(ctx, "Player")
		require.NoError(t, err)
		assert.Contains(t, names, "idx_Player_score")

		err = adapter.DropIndexes(ctx, "Player", []string{"idx_Player_score"})
		assert.NoError(t, err)
	})

	t.Run("Transactions", func(t *testing.T) {
		// Committed work is visible afterwards
		err := adapter.Transaction(ctx, func(tx *Adapter) error {
			return tx.CreateObject(ctx, "Player", playerSchema, document.Document{
				"objectId": "tx1", "name": "Linus",
			})
		})
		require.NoError(t, err)
		count, err := adapter.Count(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "tx1"}, false)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		// A returned error rolls everything back
		boom := errors.New("boom")
		err = adapter.Transaction(ctx, func(tx *Adapter) error {
			if err := tx.CreateObject(ctx, "Player", playerSchema, document.Document{
				"objectId": "tx2", "name": "Rob",
			}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		count, err = adapter.Count(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "tx2"}, false)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		// Explicit session with abort
		session, err := adapter.Begin(ctx)
		require.NoError(t, err)
		bound := adapter.WithSession(session)
		require.NoError(t, bound.CreateObject(ctx, "Player", playerSchema, document.Document{
			"objectId": "tx3", "name": "Ken",
		}))
		require.NoError(t, session.Abort(ctx))
		count, err = adapter.Count(ctx, "Player", playerSchema,
			map[string]interface{}{"objectId": "tx3"}, false)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("DeleteFieldsAndClass", func(t *testing.T) {
		err := adapter.DeleteFields(ctx, "Player", playerSchema, []string{"rank"})
		require.NoError(t, err)

		stored, err := adapter.GetClass(ctx, "Player")
		require.NoError(t, err)
		assert.NotContains(t, stored.Fields, "rank")

		gameSchema := &schema.Schema{
			ClassName: "Game",
			Fields: map[string]schema.FieldType{
				"objectId": {Type: schema.TypeString},
				"title":    {Type: schema.TypeString},
			},
		}

		// Empty query deletes every row and reports the count
		deleted, err := adapter.DeleteObjectsByQuery(ctx, "Game", gameSchema, map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		// The table is now empty, so the same delete matches nothing
		_, err = adapter.DeleteObjectsByQuery(ctx, "Game", gameSchema, map[string]interface{}{})
		assert.ErrorIs(t, err, ErrObjectNotFound)

		// A class that never got a table deletes nothing and succeeds
		ghostSchema := &schema.Schema{ClassName: "Ghost", Fields: map[string]schema.FieldType{
			"objectId": {Type: schema.TypeString},
		}}
		deleted, err = adapter.DeleteObjectsByQuery(ctx, "Ghost", ghostSchema, map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)

		dropped, err := adapter.DeleteClass(ctx, "Game")
		require.NoError(t, err)
		assert.True(t, dropped)

		exists, err := adapter.ClassExists(ctx, "Game")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, adapter.DeleteAllClasses(ctx))
		all, err := adapter.GetAllClasses(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	require.NoError(t, app.Stop(ctx))
}
