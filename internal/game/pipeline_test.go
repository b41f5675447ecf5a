package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/annel0/street-crime/internal/auth"
	"github.com/annel0/street-crime/internal/eventbus"
	"github.com/annel0/street-crime/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectingBus собирает опубликованные события для проверок.
type collectingBus struct {
	mu     sync.Mutex
	events []*eventbus.Envelope
}

func (b *collectingBus) Publish(ctx context.Context, ev *eventbus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *collectingBus) Subscribe(ctx context.Context, f eventbus.Filter, h eventbus.Handler) (eventbus.Subscription, error) {
	return nil, nil
}

func (b *collectingBus) Metrics() eventbus.Stats { return eventbus.Stats{} }

func (b *collectingBus) Close() error { return nil }

func (b *collectingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *collectingBus) last() *eventbus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	return b.events[len(b.events)-1]
}

// newTestPipeline создаёт конвейер с памятью вместо БД и тестовой шиной.
func newTestPipeline(t *testing.T) (*Pipeline, *auth.MemoryUserRepo, *storage.MemoryAuditRepo, *collectingBus) {
	t.Helper()
	users := auth.NewMemoryUserRepo()
	audit := storage.NewMemoryAuditRepo()
	bus := &collectingBus{}
	return NewPipeline(users, audit, bus), users, audit, bus
}

// seedUser создаёт пользователя с заданной ролью и экономикой.
func seedUser(t *testing.T, users *auth.MemoryUserRepo, name string, role auth.Role, cash float64, rep, rank int) *auth.User {
	t.Helper()
	u, err := users.CreateUser(name, "hash", role)
	require.NoError(t, err)
	u.Cash = cash
	u.Rep = rep
	u.RankIndex = rank
	require.NoError(t, users.UpdateUser(u))
	return u
}

// TestCrimeReward тестирует детерминизм формулы награды
func TestCrimeReward(t *testing.T) {
	cases := []struct {
		name       string
		rep        int
		rank       int
		wantEarn   int
		wantRepInc int
	}{
		{"rep=50 rank=0", 50, 0, 22, 2},
		{"rep=0 rank=4", 0, 4, 60, 6},
		{"zero player", 0, 0, 20, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, users, audit, _ := newTestPipeline(t)
			u := seedUser(t, users, "player", auth.RolePlayer, 100, tc.rep, tc.rank)

			ev, err := p.Action(context.Background(), u.ID, ActionCrime)
			require.NoError(t, err)

			assert.Equal(t, 100+float64(tc.wantEarn), ev.Cash)
			assert.Equal(t, tc.rep+tc.wantRepInc, ev.Rep)

			// Ровно одна запись аудита с earn в details
			entries, err := audit.Recent(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, ActionCrime, entries[0].Action)

			var details map[string]int
			require.NoError(t, json.Unmarshal([]byte(entries[0].Details), &details))
			assert.Equal(t, tc.wantEarn, details["earn"])
		})
	}
}

// TestCrimeUpdatesLastSeen тестирует обновление времени активности
func TestCrimeUpdatesLastSeen(t *testing.T) {
	p, users, _, _ := newTestPipeline(t)
	u := seedUser(t, users, "player", auth.RolePlayer, 0, 0, 0)

	moment := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return moment }

	_, err := p.Action(context.Background(), u.ID, ActionCrime)
	require.NoError(t, err)

	stored, err := users.GetUserByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, moment, stored.LastSeen)
}

// TestUnknownActionBroadcastsWithoutMutation тестирует явную no-op ветку:
// состояние и аудит не меняются, но снимок рассылается.
func TestUnknownActionBroadcastsWithoutMutation(t *testing.T) {
	p, users, audit, bus := newTestPipeline(t)
	u := seedUser(t, users, "player", auth.RolePlayer, 500, 50, 1)

	ev, err := p.Action(context.Background(), u.ID, "rob_bank")
	require.NoError(t, err)

	assert.Equal(t, 500.0, ev.Cash)
	assert.Equal(t, 50, ev.Rep)
	assert.Equal(t, 0, audit.Count(), "no-op действие породило запись аудита")
	assert.Equal(t, 1, bus.count(), "снимок не был разослан")
}

// TestActionUnknownUser тестирует действие от несуществующего актора
func TestActionUnknownUser(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	_, err := p.Action(context.Background(), 999, ActionCrime)
	assert.ErrorIs(t, err, ErrNoUser)
}

// TestModifyForbidden тестирует отказ для ролей без права правки
func TestModifyForbidden(t *testing.T) {
	p, users, audit, bus := newTestPipeline(t)
	target := seedUser(t, users, "target", auth.RolePlayer, 100, 0, 0)

	for _, role := range []auth.Role{auth.RolePlayer, auth.RoleHelpdesk} {
		actor := seedUser(t, users, "actor_"+string(role), role, 0, 0, 0)

		cash := 9999.0
		_, err := p.Modify(context.Background(), actor.ID, ModifyRequest{UserID: target.ID, Cash: &cash})
		assert.ErrorIs(t, err, ErrForbidden)
	}

	// Состояние не изменилось, аудита и broadcast нет
	stored, err := users.GetUserByID(target.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.Cash)
	assert.Equal(t, 0, audit.Count())
	assert.Equal(t, 0, bus.count())
}

// TestModifyNoUser тестирует правку несуществующей цели
func TestModifyNoUser(t *testing.T) {
	p, users, _, _ := newTestPipeline(t)
	mod := seedUser(t, users, "mod", auth.RoleModerator, 0, 0, 0)

	_, err := p.Modify(context.Background(), mod.ID, ModifyRequest{UserID: 12345})
	assert.ErrorIs(t, err, ErrNoUser)
}

// TestModifyAppliesFields тестирует применение изменяемых полей
func TestModifyAppliesFields(t *testing.T) {
	p, users, audit, bus := newTestPipeline(t)
	mod := seedUser(t, users, "mod", auth.RoleModerator, 0, 0, 0)
	target := seedUser(t, users, "target", auth.RolePlayer, 100, 10, 0)

	cash := 500.0
	rep := 77
	rank := 2
	ev, err := p.Modify(context.Background(), mod.ID, ModifyRequest{
		UserID:    target.ID,
		Cash:      &cash,
		Rep:       &rep,
		RankIndex: &rank,
	})
	require.NoError(t, err)

	assert.Equal(t, 500.0, ev.Cash)
	assert.Equal(t, 77, ev.Rep)
	assert.Equal(t, 2, ev.RankIndex)

	// Diff содержит старые и новые значения
	entries, err := audit.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "modify", entries[0].Action)

	var changes ChangeSet
	require.NoError(t, json.Unmarshal([]byte(entries[0].Details), &changes))
	assert.Equal(t, 100.0, changes["cash"].Old)
	assert.Equal(t, 500.0, changes["cash"].New)

	// Broadcast опубликован после записи аудита
	require.Equal(t, 1, bus.count())
	assert.Equal(t, "admin_update", bus.last().EventType)
}

// TestModifyEmptyChangesStillAudits тестирует инвариант
// "ровно одна запись аудита на мутацию", даже при пустом diff.
func TestModifyEmptyChangesStillAudits(t *testing.T) {
	p, users, audit, bus := newTestPipeline(t)
	mod := seedUser(t, users, "mod", auth.RoleModerator, 0, 0, 0)
	target := seedUser(t, users, "target", auth.RolePlayer, 100, 0, 0)

	_, err := p.Modify(context.Background(), mod.ID, ModifyRequest{UserID: target.ID})
	require.NoError(t, err)

	entries, err := audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{}`, entries[0].Details)
	assert.Equal(t, 1, bus.count(), "снимок должен рассылаться и без изменений")
}

// TestModifyRoleEnforcement тестирует правило admin-only для поля role:
// у модератора поле молча игнорируется, у админа применяется.
func TestModifyRoleEnforcement(t *testing.T) {
	p, users, audit, _ := newTestPipeline(t)
	mod := seedUser(t, users, "mod", auth.RoleModerator, 0, 0, 0)
	admin := seedUser(t, users, "boss", auth.RoleAdmin, 0, 0, 0)
	target := seedUser(t, users, "target", auth.RolePlayer, 0, 0, 0)

	newRole := "moderator"

	// Модератор: роль не меняется, diff не содержит role
	_, err := p.Modify(context.Background(), mod.ID, ModifyRequest{UserID: target.ID, Role: &newRole})
	require.NoError(t, err)

	stored, err := users.GetUserByID(target.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RolePlayer, stored.Role)

	entries, err := audit.Recent(context.Background(), 1)
	require.NoError(t, err)
	var changes ChangeSet
	require.NoError(t, json.Unmarshal([]byte(entries[0].Details), &changes))
	_, hasRole := changes["role"]
	assert.False(t, hasRole, "diff модератора содержит role")

	// Админ: роль применяется
	_, err = p.Modify(context.Background(), admin.ID, ModifyRequest{UserID: target.ID, Role: &newRole})
	require.NoError(t, err)

	stored, err = users.GetUserByID(target.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleModerator, stored.Role)
}

// TestRecentAuditAdminOnly тестирует ограничение чтения аудита
func TestRecentAuditAdminOnly(t *testing.T) {
	p, users, _, _ := newTestPipeline(t)
	admin := seedUser(t, users, "boss", auth.RoleAdmin, 0, 0, 0)
	mod := seedUser(t, users, "mod", auth.RoleModerator, 0, 0, 0)

	_, err := p.RecentAudit(context.Background(), mod.ID, 10)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = p.RecentAudit(context.Background(), admin.ID, 10)
	assert.NoError(t, err)
}

// TestConcurrentModifySameTarget тестирует конкурентные правки одной цели:
// last-write-wins по полям, без гонок по общей памяти (запускать с -race).
func TestConcurrentModifySameTarget(t *testing.T) {
	p, users, audit, bus := newTestPipeline(t)
	mod := seedUser(t, users, "mod", auth.RoleModerator, 0, 0, 0)
	target := seedUser(t, users, "target", auth.RolePlayer, 100, 0, 0)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cash := float64(1000 + n)
			_, err := p.Modify(context.Background(), mod.ID, ModifyRequest{
				UserID: target.ID,
				Cash:   &cash,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Итоговый баланс — одно из записанных значений
	stored, err := users.GetUserByID(target.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stored.Cash, 1000.0)
	assert.Less(t, stored.Cash, 1000.0+writers)

	// Каждая мутация оставила запись аудита и broadcast
	assert.Equal(t, writers, audit.Count())
	assert.Equal(t, writers, bus.count())
}
