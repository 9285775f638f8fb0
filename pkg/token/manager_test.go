// pkg/token/manager_test.go
package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"KabuRadar/pkg/database"
	"KabuRadar/pkg/database/memory"
	"KabuRadar/pkg/model"
)

func newTestManager(t *testing.T, now time.Time) (*Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	m := NewManager(store.Token())
	m.now = func() time.Time { return now }
	return m, store
}

func TestSaveSupersedesOldToken(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, store := newTestManager(t, now)

	first, err := m.Save("user@example.com", "token-1", "")
	require.NoError(t, err)
	require.Equal(t, now.Add(TokenLifetime), first.ExpiresAt)
	require.Equal(t, "Standard", first.PlanType)

	_, err = m.Save("user@example.com", "token-2", "Premium")
	require.NoError(t, err)

	// 同一用户只剩最新一条有效记录
	active, err := store.Token().GetActive("user@example.com", now)
	require.NoError(t, err)
	require.Equal(t, "token-2", active.RefreshToken)
	require.Equal(t, "Premium", active.PlanType)
}

func TestSaveRejectsEmptyInput(t *testing.T) {
	m, _ := newTestManager(t, time.Now())

	_, err := m.Save("", "token", "")
	require.Error(t, err)
	_, err = m.Save("user@example.com", "", "")
	require.Error(t, err)
}

func TestGetActiveExcludesExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	_, err := m.Save("user@example.com", "token-1", "")
	require.NoError(t, err)

	// 7天有效期内可取
	m.now = func() time.Time { return now.Add(6 * 24 * time.Hour) }
	rec, err := m.GetActive("user@example.com")
	require.NoError(t, err)
	require.Equal(t, "token-1", rec.RefreshToken)
	require.NotNil(t, rec.LastUsedAt)

	// 过期后不可取
	m.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }
	_, err = m.GetActive("user@example.com")
	require.ErrorIs(t, err, database.ErrRecordNotFound)
}

func TestCheckExpiryBuckets(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	// 无令牌
	info := m.CheckExpiry("user@example.com")
	require.False(t, info.Valid)
	require.Equal(t, model.TokenStatusNotFound, info.Status)

	_, err := m.Save("user@example.com", "token-1", "")
	require.NoError(t, err)

	cases := []struct {
		name   string
		at     time.Time
		valid  bool
		status model.TokenStatus
	}{
		{"valid", now.Add(1 * time.Hour), true, model.TokenStatusValid},
		{"warning", now.Add(7*24*time.Hour - 36*time.Hour), true, model.TokenStatusWarning},
		{"expiring_soon", now.Add(7*24*time.Hour - 10*time.Hour), true, model.TokenStatusExpiringSoon},
		{"expired", now.Add(7*24*time.Hour + time.Second), false, model.TokenStatusExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m.now = func() time.Time { return tc.at }
			info := m.CheckExpiry("user@example.com")
			require.Equal(t, tc.valid, info.Valid)
			require.Equal(t, tc.status, info.Status)
		})
	}
}

func TestCheckExpiryDoesNotMutate(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, store := newTestManager(t, now)

	_, err := m.Save("user@example.com", "token-1", "")
	require.NoError(t, err)

	// 已过期的令牌检查后仍保持有效标记，作废由保存新令牌或显式失效完成
	m.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }
	info := m.CheckExpiry("user@example.com")
	require.Equal(t, model.TokenStatusExpired, info.Status)

	rec, err := store.Token().GetNewestActive("user@example.com")
	require.NoError(t, err)
	require.True(t, rec.IsActive)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	_, err := m.Save("user@example.com", "token-1", "")
	require.NoError(t, err)

	affected, err := m.Invalidate("user@example.com")
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	affected, err = m.Invalidate("user@example.com")
	require.NoError(t, err)
	require.EqualValues(t, 0, affected)
}

func TestCleanupPurgesOldInactive(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, store := newTestManager(t, now)

	_, err := m.Save("user@example.com", "token-old", "")
	require.NoError(t, err)
	_, err = m.Invalidate("user@example.com")
	require.NoError(t, err)

	// 保留期内不清理
	m.now = func() time.Time { return now.Add(20 * 24 * time.Hour) }
	purged, err := m.Cleanup()
	require.NoError(t, err)
	require.EqualValues(t, 0, purged)

	// 过期+保留期满后清理
	m.now = func() time.Time { return now.Add(40 * 24 * time.Hour) }
	purged, err = m.Cleanup()
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	_, err = store.Token().GetNewestActive("user@example.com")
	require.ErrorIs(t, err, database.ErrRecordNotFound)
}
