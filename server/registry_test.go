package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newRegistryForTest(t *testing.T) (*Registry, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:registry-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Client{}, &Command{}))
	return NewRegistry(db, zerolog.Nop(), 4*time.Hour, 45*time.Second), db
}

func TestRegisterStoresClientWithExpiredCredential(t *testing.T) {
	registry, _ := newRegistryForTest(t)

	client, err := registry.Register("C1", "boot1", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "C1", client.ClientID)
	require.Equal(t, "10.0.0.1", client.OriginIP)

	// Expiry starts in the past so the first poll rotates the bootstrap
	// password immediately.
	require.True(t, client.PasswordExpireAt.Before(time.Now().UTC()))
	require.True(t, rotationDue(client, time.Now().UTC()))
}

func TestRegisterDuplicateFailsWithoutMutation(t *testing.T) {
	registry, _ := newRegistryForTest(t)
	_, err := registry.Register("C1", "boot1", "10.0.0.1")
	require.NoError(t, err)

	_, err = registry.Register("C1", "other", "10.9.9.9")
	require.ErrorIs(t, err, ErrClientExists)

	stored, err := registry.Get("C1")
	require.NoError(t, err)
	require.Equal(t, "boot1", stored.CurrentPassword)
	require.Equal(t, "10.0.0.1", stored.OriginIP)
}

func TestGetUnknownClient(t *testing.T) {
	registry, _ := newRegistryForTest(t)
	_, err := registry.Get("ghost")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestTouchHeartbeatIsMonotonic(t *testing.T) {
	registry, db := newRegistryForTest(t)
	_, err := registry.Register("C1", "boot1", "10.0.0.1")
	require.NoError(t, err)

	var previous time.Time
	for i := 0; i < 3; i++ {
		registry.TouchHeartbeat("C1")
		var client Client
		require.NoError(t, db.Where("client_id = ?", "C1").First(&client).Error)
		require.False(t, client.LastHeartbeatAt.Before(previous))
		previous = client.LastHeartbeatAt
	}
}

func TestTouchHeartbeatUnknownClientIsNoop(t *testing.T) {
	registry, db := newRegistryForTest(t)
	registry.TouchHeartbeat("ghost")

	var count int64
	require.NoError(t, db.Model(&Client{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestSetCredentialSchedulesNextRotation(t *testing.T) {
	registry, _ := newRegistryForTest(t)
	_, err := registry.Register("C1", "boot1", "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, registry.StagePassword("C1", "staged99"))

	require.NoError(t, registry.SetCredential("C1", "fresh123"))

	client, err := registry.Get("C1")
	require.NoError(t, err)
	require.Equal(t, "fresh123", client.CurrentPassword)
	require.Empty(t, client.PendingPassword)
	require.False(t, rotationDue(client, time.Now().UTC()))

	// Expiry lands roughly one rotation period out.
	expected := time.Now().UTC().Add(4 * time.Hour)
	require.WithinDuration(t, expected, client.PasswordExpireAt, time.Minute)
}

func TestSetCredentialUnknownClient(t *testing.T) {
	registry, _ := newRegistryForTest(t)
	err := registry.SetCredential("ghost", "fresh123")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestInvalidateCredentialForcesRotation(t *testing.T) {
	registry, _ := newRegistryForTest(t)
	_, err := registry.Register("C1", "boot1", "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, registry.SetCredential("C1", "fresh123"))

	require.NoError(t, registry.InvalidateCredential("C1"))

	client, err := registry.Get("C1")
	require.NoError(t, err)
	require.True(t, rotationDue(client, time.Now().UTC()))
}

func TestStagePasswordMakesRotationDue(t *testing.T) {
	registry, _ := newRegistryForTest(t)
	_, err := registry.Register("C1", "boot1", "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, registry.SetCredential("C1", "fresh123"))

	require.NoError(t, registry.StagePassword("C1", "staged99"))
	client, err := registry.Get("C1")
	require.NoError(t, err)

	// The credential itself has not expired, the staged value alone makes
	// rotation due, and it travels in the command args.
	require.True(t, client.PasswordExpireAt.After(time.Now().UTC()))
	require.True(t, rotationDue(client, time.Now().UTC()))
	require.Equal(t, []string{"staged99"}, rotationPayload(client).Args())
}

func TestRemoveIsIdempotent(t *testing.T) {
	registry, _ := newRegistryForTest(t)
	_, err := registry.Register("C1", "boot1", "10.0.0.1")
	require.NoError(t, err)

	registry.Remove("C1")
	_, err = registry.Get("C1")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// A second remove and a remove of something never registered both
	// just log.
	registry.Remove("C1")
	registry.Remove("ghost")
}

func TestListAllSnapshot(t *testing.T) {
	registry, _ := newRegistryForTest(t)
	for _, id := range []string{"C2", "C1", "C3"} {
		_, err := registry.Register(id, "boot1", "10.0.0.1")
		require.NoError(t, err)
	}

	clients, err := registry.ListAll()
	require.NoError(t, err)
	require.Len(t, clients, 3)
}

func TestOnlineAndDeadWindows(t *testing.T) {
	now := time.Now().UTC()
	onlineWindow := 45 * time.Second
	deadWindow := 30 * time.Minute

	fresh := &Client{LastHeartbeatAt: now.Add(-10 * time.Second)}
	require.True(t, fresh.Online(now, onlineWindow))
	require.False(t, fresh.Dead(now, onlineWindow, deadWindow))

	stale := &Client{LastHeartbeatAt: now.Add(-5 * time.Minute)}
	require.False(t, stale.Online(now, onlineWindow))
	require.False(t, stale.Dead(now, onlineWindow, deadWindow))

	dead := &Client{LastHeartbeatAt: now.Add(-31 * time.Minute)}
	require.False(t, dead.Online(now, onlineWindow))
	require.True(t, dead.Dead(now, onlineWindow, deadWindow))
}
