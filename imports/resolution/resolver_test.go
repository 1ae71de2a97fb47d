package resolution

import (
	"context"
	"testing"

	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedEntities(t *testing.T, db *gorm.DB) {
	t.Helper()
	entities := []models.ImportEntity{
		{ID: "s1", EntityType: EntitySupplier, Name: "Suministros Martinez SL"},
		{ID: "s2", EntityType: EntitySupplier, Name: "Papeleria Central", TaxId: "B12345674"},
		{ID: "c1", EntityType: EntityCustomer, Name: "Suministros Martinez SL"},
	}
	require.NoError(t, db.WithContext(testutil.TenantCtx("t1")).Create(&entities).Error)
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Suministros Martínez, S.L.": "suministros martinez",
		"Grupo Bimbo S.A. de C.V.":   "grupo bimbo",
		"ACME":                       "acme",
		"  Café   O'Brien  Ltd ":     "cafe obrien",
		"S.L.":                       "sl",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("acme", "acme"))
	assert.InDelta(t, 0.875, Similarity("martinez", "martines"), 1e-9)
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("abc", ""))
}

func TestResolveExactMatchResolvesAutomatically(t *testing.T) {
	db := testutil.NewTestDB(t)
	seedEntities(t, db)
	r := NewResolver(db, testutil.NewLogger())

	memo, candidates, err := r.Resolve(context.Background(), "t1", "job-1", EntitySupplier, "SUMINISTROS MARTÍNEZ S.L.", "")
	require.NoError(t, err)
	assert.Equal(t, models.ImportResolutionStatusResolved, memo.Status)
	require.NotNil(t, memo.ResolvedId)
	assert.Equal(t, "s1", *memo.ResolvedId)
	assert.Equal(t, ResolvedByAuto, memo.ResolvedBy)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "s1", candidates[0].EntityID)
}

func TestResolveByTaxID(t *testing.T) {
	db := testutil.NewTestDB(t)
	seedEntities(t, db)
	r := NewResolver(db, testutil.NewLogger())

	memo, _, err := r.Resolve(context.Background(), "t1", "job-1", EntitySupplier, "Otro Nombre Distinto", "b12345674")
	require.NoError(t, err)
	assert.Equal(t, models.ImportResolutionStatusResolved, memo.Status)
	assert.Equal(t, "s2", *memo.ResolvedId)
}

func TestResolveWeakMatchWaitsForConfirmation(t *testing.T) {
	db := testutil.NewTestDB(t)
	seedEntities(t, db)
	r := NewResolver(db, testutil.NewLogger())
	ctx := context.Background()

	memo, candidates, err := r.Resolve(ctx, "t1", "job-1", EntitySupplier, "Sumin. Martinez", "")
	require.NoError(t, err)
	assert.Equal(t, models.ImportResolutionStatusPending, memo.Status)
	assert.Nil(t, memo.ResolvedId)
	require.Len(t, candidates, 1)
	assert.Equal(t, "s1", candidates[0].EntityID)
	assert.InDelta(t, 0.7, memo.Confidence, 1e-9)

	pending, err := r.Pending(ctx, "t1", "job-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, r.Confirm(ctx, "t1", EntitySupplier, "Sumin. Martinez", "s1", "user-7"))

	// a later import reuses the decision without ranking again
	memo, candidates, err = r.Resolve(ctx, "t1", "job-2", EntitySupplier, "SUMIN MARTINEZ", "")
	require.NoError(t, err)
	assert.Equal(t, models.ImportResolutionStatusResolved, memo.Status)
	assert.Equal(t, "user-7", memo.ResolvedBy)
	assert.Equal(t, "s1", *memo.ResolvedId)
	assert.Nil(t, candidates)

	pending, err = r.Pending(ctx, "t1", "job-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestResolveRejectAndIsolation(t *testing.T) {
	db := testutil.NewTestDB(t)
	seedEntities(t, db)
	r := NewResolver(db, testutil.NewLogger())
	ctx := context.Background()

	memo, candidates, err := r.Resolve(ctx, "t2", "job-9", EntitySupplier, "Suministros Martinez SL", "")
	require.NoError(t, err)
	assert.Equal(t, models.ImportResolutionStatusPending, memo.Status)
	assert.Empty(t, candidates)

	require.NoError(t, r.Reject(ctx, "t2", EntitySupplier, "Suministros Martinez SL", "user-1"))
	memo, _, err = r.Resolve(ctx, "t2", "job-10", EntitySupplier, "suministros martinez", "")
	require.NoError(t, err)
	assert.Equal(t, models.ImportResolutionStatusRejected, memo.Status)

	assert.ErrorIs(t, r.Confirm(ctx, "t1", EntityCustomer, "Nadie", "c1", "u"), gorm.ErrRecordNotFound)
	_, _, err = r.Resolve(ctx, "t1", "job-1", EntitySupplier, " ,. ", "")
	assert.ErrorIs(t, err, ErrEmptyValue)
}
