package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestDatabaseProbe(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	hc := NewHealthChecker(DatabaseProbe(sqlDB))
	report := hc.Check(context.Background())
	require.Len(t, report.Components, 1)
	assert.Equal(t, "database", report.Components[0].Name)
	assert.NotEqual(t, HealthStatusUnhealthy, report.Status)
	assert.True(t, hc.Ready(context.Background()))

	require.NoError(t, sqlDB.Close())
	hc = NewHealthChecker(DatabaseProbe(sqlDB))
	report = hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Contains(t, report.Components[0].Message, "ping failed")
}

func TestWorstComponentWins(t *testing.T) {
	ok := Probe{Name: "ok", Check: func(context.Context) error { return nil }}
	slow := Probe{Name: "slow", SlowAfter: time.Nanosecond, Check: func(context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	}}
	down := Probe{Name: "down", Check: func(context.Context) error { return errors.New("connection refused") }}

	assert.Equal(t, HealthStatusHealthy, NewHealthChecker(ok).Check(context.Background()).Status)
	assert.Equal(t, HealthStatusDegraded, NewHealthChecker(ok, slow).Check(context.Background()).Status)

	hc := NewHealthChecker(ok, slow, down)
	report := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Equal(t, "connection refused", report.Components[2].Message)
	assert.False(t, hc.Ready(context.Background()))
}

func TestReportIsCached(t *testing.T) {
	calls := 0
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	hc := NewHealthChecker(Probe{Name: "counted", Check: func(context.Context) error {
		calls++
		return nil
	}})
	hc.now = func() time.Time { return now }

	hc.Check(context.Background())
	hc.Check(context.Background())
	assert.Equal(t, 1, calls)

	now = now.Add(6 * time.Second)
	hc.Check(context.Background())
	assert.Equal(t, 2, calls)
}
