package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"ms-booking/internal/config"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// setupTestRedis creates a Redis client backed by miniredis.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestLock_ExclusiveUntilReleased(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, time.Minute, 0)
	ctx := context.Background()

	ok, err := r.TryLock(ctx, models.KindRoom, "room-1", "owner-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryLock(ctx, models.KindRoom, "room-1", "owner-b")
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not take a held lock")

	ok, err = r.TryLock(ctx, models.KindRoom, "room-2", "owner-b")
	require.NoError(t, err)
	assert.True(t, ok, "locks are per resource")

	require.NoError(t, r.Release(ctx, models.KindRoom, "room-1", "owner-a"))

	ok, err = r.TryLock(ctx, models.KindRoom, "room-1", "owner-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ReleaseChecksOwner(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, time.Minute, 0)
	ctx := context.Background()

	_, err := r.TryLock(ctx, models.KindTrip, "trip-1", "owner-a")
	require.NoError(t, err)

	require.NoError(t, r.Release(ctx, models.KindTrip, "trip-1", "intruder"))
	locked, err := r.IsLocked(ctx, models.KindTrip, "trip-1")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, r.Release(ctx, models.KindTrip, "trip-1", "owner-a"))
	locked, err = r.IsLocked(ctx, models.KindTrip, "trip-1")
	require.NoError(t, err)
	assert.False(t, locked)

	assert.NoError(t, r.Release(ctx, models.KindTrip, "trip-1", "owner-a"), "releasing twice is harmless")
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, 10*time.Second, 0)
	ctx := context.Background()

	_, err := r.TryLock(ctx, models.KindCar, "car-1", "owner-a")
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)

	ok, err := r.TryLock(ctx, models.KindCar, "car-1", "owner-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, time.Minute, 2*time.Second)
	ctx := context.Background()

	_, err := r.TryLock(ctx, models.KindRoom, "room-1", "owner-a")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = r.Release(ctx, models.KindRoom, "room-1", "owner-a")
	}()

	ok, err := r.Acquire(ctx, models.KindRoom, "room-1", "owner-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquire_GivesUp(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, time.Minute, 50*time.Millisecond)
	ctx := context.Background()

	_, err := r.TryLock(ctx, models.KindRoom, "room-1", "owner-a")
	require.NoError(t, err)

	ok, err := r.Acquire(ctx, models.KindRoom, "room-1", "owner-b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcquire_ConcurrentOwnersOneWins(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, time.Minute, 0)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := r.Acquire(ctx, models.KindTrip, "trip-1", string(rune('a'+i)))
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestConnect(t *testing.T) {
	_, mr := setupTestRedis(t)

	client, err := Connect(context.Background(), config.RedisConfig{Addr: mr.Addr()}, logger.NewDiscard())
	require.NoError(t, err)
	defer client.Close()

	_, err = Connect(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"}, logger.NewDiscard())
	assert.Error(t, err)
}

// TestRedisIntegration runs the lock against a real Redis container.
func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	r := NewRedis(client, time.Minute, 0)

	ok, err := r.TryLock(ctx, models.KindTrip, "trip-int", "order-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryLock(ctx, models.KindTrip, "trip-int", "order-2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Release(ctx, models.KindTrip, "trip-int", "order-1"))

	ok, err = r.TryLock(ctx, models.KindTrip, "trip-int", "order-2")
	require.NoError(t, err)
	assert.True(t, ok)
}
