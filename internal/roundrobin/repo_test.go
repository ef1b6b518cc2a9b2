package roundrobin

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

var testCaps = []TierCap{
	{Tier: enums.CatererTierBasic, Limit: 5, Limited: true},
	{Tier: enums.CatererTierPro, Limit: 15, Limited: true},
	{Tier: enums.CatererTierBusiness},
}

func TestAdvanceCursorCreatesThenIncrements(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	index, err := repo.AdvanceCursor(ctx, nil, enums.CatererTierBasic, "cape town", 2, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), index)

	last := uuid.New()
	index, err = repo.AdvanceCursor(ctx, nil, enums.CatererTierBasic, "cape town", 3, &last)
	require.NoError(t, err)
	require.Equal(t, int64(5), index)

	index, err = repo.AdvanceCursor(ctx, nil, enums.CatererTierBasic, "cape town", 1, nil)
	require.NoError(t, err)
	require.Equal(t, int64(6), index)

	state, err := repo.GetState(ctx, nil, enums.CatererTierBasic, "cape town")
	require.NoError(t, err)
	require.Equal(t, int64(6), state.AssignmentIndex)
	require.NotNil(t, state.LastAssignedCatererID)
	require.Equal(t, last, *state.LastAssignedCatererID)

	other, err := repo.GetState(ctx, nil, enums.CatererTierPro, "cape town")
	require.NoError(t, err)
	require.Zero(t, other.AssignmentIndex)
}

func TestAdvanceCursorIsSingleStatementOnPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO round_robin_states")).
		WithArgs("pro", "austin", int64(2), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"assignment_index"}).AddRow(int64(9)))

	index, err := NewRepository(conn).AdvanceCursor(context.Background(), nil, enums.CatererTierPro, "austin", 2, nil)
	require.NoError(t, err)
	require.Equal(t, int64(9), index)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStampAssignmentRespectsCaps(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	monthStart := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	full := dbtest.MustCreateCaterer(t, db, dbtest.WithJobsSince(5, monthStart))
	room := dbtest.MustCreateCaterer(t, db, dbtest.WithJobsSince(4, monthStart))
	lastMonth := dbtest.MustCreateCaterer(t, db, dbtest.WithJobsSince(5, monthStart.AddDate(0, -1, 0)))
	business := dbtest.MustCreateCaterer(t, db, dbtest.WithTier(enums.CatererTierBusiness), dbtest.WithJobsSince(10000, monthStart))

	stamped, skipped, err := repo.StampAssignment(ctx, nil, []uuid.UUID{full.ID, room.ID, lastMonth.ID, business.ID}, testCaps, now, monthStart)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{room.ID, lastMonth.ID, business.ID}, stamped)
	require.Equal(t, []uuid.UUID{full.ID}, skipped)

	jobs := func(id uuid.UUID) models.Caterer {
		var row models.Caterer
		require.NoError(t, db.First(&row, "id = ?", id).Error)
		return row
	}
	require.Equal(t, 5, jobs(full.ID).JobsThisMonth)
	require.Nil(t, jobs(full.ID).LastJobAssignedAt)
	require.Equal(t, 5, jobs(room.ID).JobsThisMonth)
	require.True(t, jobs(room.ID).LastJobAssignedAt.Equal(now))
	require.Equal(t, 10001, jobs(business.ID).JobsThisMonth)

	rolled := jobs(lastMonth.ID)
	require.Equal(t, 1, rolled.JobsThisMonth)
	require.NotNil(t, rolled.JobsMonthStartedAt)
	require.True(t, rolled.JobsMonthStartedAt.Equal(monthStart))
	require.NotNil(t, rolled.LastJobAssignedAt)
	require.True(t, rolled.LastJobAssignedAt.Equal(now.Add(stampStep)))
	require.True(t, jobs(business.ID).LastJobAssignedAt.Equal(now.Add(2*stampStep)))
}

func TestStampAssignmentUnknownTierNeverStamped(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	legacy := dbtest.MustCreateCaterer(t, db, dbtest.WithTier(enums.CatererTier("gold")))

	now := time.Now().UTC()
	stamped, skipped, err := repo.StampAssignment(context.Background(), nil, []uuid.UUID{legacy.ID}, testCaps, now, startOfMonth(now))
	require.NoError(t, err)
	require.Empty(t, stamped)
	require.Equal(t, []uuid.UUID{legacy.ID}, skipped)
}

func TestListPoolFiltersAndOrders(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assigned := dbtest.MustCreateCaterer(t, db, dbtest.WithLastAssigned(base), dbtest.WithCreatedAt(base))
	fresh := dbtest.MustCreateCaterer(t, db, dbtest.WithCreatedAt(base.Add(time.Hour)))
	lapsed := dbtest.MustCreateCaterer(t, db, dbtest.WithSubscription(false), dbtest.WithCreatedAt(base.Add(2*time.Hour)))
	dbtest.MustCreateCaterer(t, db, dbtest.WithTier(enums.CatererTierPro))
	dbtest.MustCreateCaterer(t, db, dbtest.WithActive(false))

	basic := enums.CatererTierBasic
	rows, err := repo.ListPool(ctx, nil, PoolQuery{Tier: &basic, City: "austin", RequireSubscription: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, fresh.ID, rows[0].ID)
	require.Equal(t, assigned.ID, rows[1].ID)

	rows, err = repo.ListPool(ctx, nil, PoolQuery{City: "austin"})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	ids := []uuid.UUID{rows[0].ID, rows[1].ID, rows[2].ID, rows[3].ID}
	require.Contains(t, ids, lapsed.ID)

	rows, err = repo.ListPool(ctx, nil, PoolQuery{City: "austin", Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestResetMonthlyCounters(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	monthStart := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	stale := dbtest.MustCreateCaterer(t, db, dbtest.WithJobsSince(4, monthStart.AddDate(0, -1, 0)))
	current := dbtest.MustCreateCaterer(t, db, dbtest.WithJobsSince(2, monthStart))

	n, err := repo.ResetMonthlyCounters(context.Background(), monthStart)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var row models.Caterer
	require.NoError(t, db.First(&row, "id = ?", stale.ID).Error)
	require.Zero(t, row.JobsThisMonth)
	require.NoError(t, db.First(&row, "id = ?", current.ID).Error)
	require.Equal(t, 2, row.JobsThisMonth)
}
