package emergency

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SafeHaven/internal/models"
	"SafeHaven/internal/policy"
	"SafeHaven/pkg/util"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := util.InitDatabase("sqlite", fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano()), false)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// countingSos 记录 Stats 调用次数
type countingSos struct {
	*models.SosStore
	statsCalls int32
}

func (c *countingSos) Stats(ctx context.Context) (*models.SosStats, error) {
	atomic.AddInt32(&c.statsCalls, 1)
	return c.SosStore.Stats(ctx)
}

type fixture struct {
	coord *Coordinator
	sos   *countingSos
	share *models.ShareStore
	clock *clock
}

func newFixture(t *testing.T, options ...Option) *fixture {
	t.Helper()
	db := newDB(t)
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	sos := &countingSos{SosStore: models.NewSosStore(db, nil, models.WithClock(clk.Now))}
	share := models.NewShareStore(db, 60, 480, models.WithClock(clk.Now))
	coord := New(sos, share, Options{
		MessageMaxLen:       20,
		ActiveUserWindow:    15 * time.Minute,
		DefaultRadiusMeters: 2000,
		VolunteerMaxRadius:  5000,
		StatsCacheTTL:       time.Minute,
	}, options...)
	return &fixture{coord: coord, sos: sos, share: share, clock: clk}
}

func citizen(id string) Identity   { return Identity{UserID: id, Role: policy.RoleCitizen} }
func volunteer(id string) Identity { return Identity{UserID: id, Role: policy.RoleVolunteer} }
func police(id string) Identity    { return Identity{UserID: id, Role: policy.RolePolice} }

func ptr[T any](v T) *T { return &v }

func deg(v float64) *float64 { return &v }
