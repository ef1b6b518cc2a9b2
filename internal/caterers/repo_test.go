package caterers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catermatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

func TestListCandidatesAppliesHardFilters(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	fits := dbtest.MustCreateCaterer(t, db, dbtest.WithName("fits"), dbtest.WithCapacity(10, 150))
	dbtest.MustCreateCaterer(t, db, dbtest.WithName("too small"), dbtest.WithCapacity(10, 80))
	dbtest.MustCreateCaterer(t, db, dbtest.WithName("inactive"), dbtest.WithActive(false))
	dbtest.MustCreateCaterer(t, db, dbtest.WithName("lapsed"), dbtest.WithSubscription(false))
	dbtest.MustCreateCaterer(t, db, dbtest.WithName("elsewhere"), dbtest.WithCity("Houston"))

	rows, err := repo.ListCandidates(ctx, CandidateFilter{MinCapacity: 100, City: "  AUSTIN "})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, fits.ID, rows[0].ID)
}

func TestListCandidatesCitySubstringAndTier(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	metro := dbtest.MustCreateCaterer(t, db, dbtest.WithCity("Greater Austin Area"), dbtest.WithTier(enums.CatererTierPro))
	dbtest.MustCreateCaterer(t, db, dbtest.WithCity("Austin"), dbtest.WithTier(enums.CatererTierBasic))

	pro := enums.CatererTierPro
	rows, err := repo.ListCandidates(ctx, CandidateFilter{City: "austin", Tier: &pro})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, metro.ID, rows[0].ID)

	rows, err = repo.ListCandidates(ctx, CandidateFilter{City: "aus%"})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestListCandidatesOrdersByRotation(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	recent := dbtest.MustCreateCaterer(t, db, dbtest.WithLastAssigned(base.Add(2*time.Hour)), dbtest.WithCreatedAt(base))
	never := dbtest.MustCreateCaterer(t, db, dbtest.WithCreatedAt(base.Add(time.Hour)))
	older := dbtest.MustCreateCaterer(t, db, dbtest.WithLastAssigned(base), dbtest.WithCreatedAt(base))

	rows, err := repo.ListCandidates(ctx, CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []uuid.UUID{never.ID, older.ID, recent.ID}, []uuid.UUID{rows[0].ID, rows[1].ID, rows[2].ID})

	rows, err = repo.ListCandidates(ctx, CandidateFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestFindByIDs(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	a := dbtest.MustCreateCaterer(t, db)
	b := dbtest.MustCreateCaterer(t, db)

	found, err := repo.FindByIDs(ctx, nil, []uuid.UUID{a.ID, b.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, a.Name, found[a.ID].Name)

	empty, err := repo.FindByIDs(ctx, nil, nil)
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = repo.FindByID(ctx, uuid.New())
	require.Error(t, err)
}

func TestToProfileMapsLocationAndRating(t *testing.T) {
	db := dbtest.Open(t)
	row := dbtest.MustCreateCaterer(t, db, dbtest.WithLocation(30.1, -97.2), dbtest.WithRating(4.5, 3), dbtest.WithCuisines("BBQ", "Tex-Mex"),
		dbtest.WithServiceStyles("buffet", "food truck"))

	loaded, err := NewRepository(db).FindByID(context.Background(), row.ID)
	require.NoError(t, err)

	profile := ToProfile(*loaded)
	require.NotNil(t, profile.Location)
	require.InDelta(t, 30.1, profile.Location.Lat, 1e-9)
	require.True(t, profile.Rated())
	require.Equal(t, []string{"BBQ", "Tex-Mex"}, profile.Cuisines)
	require.Equal(t, []string{"buffet", "food truck"}, profile.ServiceStyles)
	require.True(t, profile.MaxPricePerPerson.Equal(row.MaxPricePerPerson))

	row.Latitude = nil
	require.Nil(t, ToProfile(*row).Location)
}

func TestNormalizeCity(t *testing.T) {
	require.Equal(t, "san antonio", NormalizeCity("  San   Antonio "))
	require.Equal(t, `%50\% off\_%`, ContainsPattern("50% off_"))
}
