package posting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func bankDoc(ref, amount string) *canonical.Document {
	return &canonical.Document{
		DocType:   canonical.DocTypeBankTx,
		Country:   "ES",
		Currency:  "EUR",
		IssueDate: canonical.NewDate(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)),
		BankTx: &canonical.BankTx{
			Amount:      decimal.RequireFromString(amount),
			Direction:   canonical.DirectionCredit,
			ValueDate:   canonical.NewDate(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)),
			Narrative:   "Transferencia cliente",
			ExternalRef: ref,
		},
	}
}

func candidate(tenant, ref string) Candidate {
	return Candidate{TenantID: tenant, BatchID: "batch-1", ItemID: "item-" + ref, SourceType: "csv_bank", Document: bankDoc(ref, "1500.00")}
}

func count(t *testing.T, db *gorm.DB, tenant string, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.WithContext(testutil.TenantCtx(tenant)).Model(model).Count(&n).Error)
	return n
}

func TestComputePostingKeyDeterministic(t *testing.T) {
	a := ComputePostingKey("t1", "csv_bank", "bank_transaction", map[string]string{
		"external_ref": "trx123", "amount": "1500.00", "narrative": "Pago  Cafetería",
	})
	b := ComputePostingKey("t1", "CSV_BANK", "bank_transaction", map[string]string{
		"narrative": " pago cafeteria ", "amount": "1500", "external_ref": "TRX123",
	})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	other := ComputePostingKey("t2", "csv_bank", "bank_transaction", map[string]string{
		"external_ref": "trx123", "amount": "1500.00", "narrative": "Pago  Cafetería",
	})
	assert.NotEqual(t, a, other)

	c := ComputePostingKey("t1", "csv_bank", "bank_transaction", map[string]string{
		"external_ref": "trx123", "amount": "1500.01", "narrative": "Pago  Cafetería",
	})
	assert.NotEqual(t, a, c)

	withEmpty := ComputePostingKey("t1", "csv_bank", "bank_transaction", map[string]string{
		"external_ref": "trx123", "amount": "1500.00", "narrative": "Pago  Cafetería", "value_date": "",
	})
	assert.Equal(t, a, withEmpty)
}

func TestComputePostingKeyKeepsIdentifierDigits(t *testing.T) {
	sku007 := ComputePostingKey("t1", "csv", "product", map[string]string{"sku": "007"})
	sku7 := ComputePostingKey("t1", "csv", "product", map[string]string{"sku": "7"})
	assert.NotEqual(t, sku007, sku7)

	invoice := func(number string) string {
		return ComputePostingKey("t1", "csv_sales", "invoice", map[string]string{
			"number": number, "vendor": "B12345678", "total": "121.00", "issue_date": "2024-03-01",
		})
	}
	assert.NotEqual(t, invoice("0001"), invoice("1"))
	assert.Equal(t, invoice("0001"), ComputePostingKey("t1", "csv_sales", "invoice", map[string]string{
		"number": "0001", "vendor": "b12345678", "total": "121", "issue_date": "2024-03-01",
	}))
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "ACME SL", NormalizeValue("  acme   sl "))
	assert.Equal(t, "1500.000", NormalizeValue("1500.000"))
	assert.Equal(t, "1500", NormalizeField("amount", "1500.000"))
	assert.Equal(t, "-12.5", NormalizeField("Total", "-12.50"))
	assert.Equal(t, "007", NormalizeField("sku", "007"))
	assert.Equal(t, "2024-01-15", NormalizeValue("2024-01-15"))
	assert.Equal(t, "ELECTRONICA", NormalizeValue("Electrónica"))
	assert.Equal(t, "", NormalizeValue("   "))
}

func TestCandidateWithoutIdentifiers(t *testing.T) {
	_, err := Candidate{TenantID: "t1"}.Key()
	assert.ErrorIs(t, err, ErrNoDocument)

	doc := &canonical.Document{DocType: canonical.DocTypeProduct, Product: &canonical.Product{}}
	_, err = Candidate{TenantID: "t1", Document: doc}.Key()
	assert.ErrorIs(t, err, ErrNoIdentifier)
}

func TestPostCreatesEntityOnce(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, testutil.NewLogger(), nil)
	ctx := context.Background()

	first, err := svc.Post(ctx, candidate("t1", "TRX123"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.NotEmpty(t, first.EntityID)

	again := candidate("t1", "TRX123")
	again.ItemID = "item-other"
	again.Document.BankTx.Amount = decimal.RequireFromString("1500")
	second, err := svc.Post(ctx, again)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.EntityID, second.EntityID)
	require.NotNil(t, second.DuplicateOf)
	assert.Equal(t, "item-TRX123", second.DuplicateOf.ItemId)

	assert.EqualValues(t, 1, count(t, db, "t1", &models.PostingRecord{}))
	assert.EqualValues(t, 1, count(t, db, "t1", &models.ImportedDocument{}))
	assert.EqualValues(t, 1, count(t, db, "t1", &models.ImportOutboxMessage{}))

	var msg models.ImportOutboxMessage
	require.NoError(t, db.WithContext(testutil.TenantCtx("t1")).First(&msg).Error)
	assert.Equal(t, models.OutboxEventDocumentPosted, msg.EventType)
	assert.Equal(t, models.OutboxPublishStatusPending, msg.PublishStatus)
	assert.Equal(t, first.EntityID, msg.AggregateId)
	assert.Contains(t, string(msg.Payload), `"external_ref":"TRX123"`)
}

func TestPostIsTenantScoped(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, testutil.NewLogger(), nil)
	ctx := context.Background()

	a, err := svc.Post(ctx, candidate("t1", "TRX123"))
	require.NoError(t, err)
	b, err := svc.Post(ctx, candidate("t2", "TRX123"))
	require.NoError(t, err)
	assert.False(t, b.Duplicate)
	assert.NotEqual(t, a.PostingKey, b.PostingKey)

	_, found, err := svc.IsDuplicate(ctx, "t2", a.PostingKey)
	require.NoError(t, err)
	assert.False(t, found)
	rec, found, err := svc.IsDuplicate(ctx, "t1", a.PostingKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, a.EntityID, rec.EntityId)

	_, err = svc.Post(ctx, candidate("", "TRX9"))
	assert.ErrorIs(t, err, config.ErrTenantContextMissing)
}

func TestPostConcurrentAtMostOnce(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, testutil.NewLogger(), nil)

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Post(context.Background(), candidate("t1", "TRX-CONCURRENT"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, results, workers)
	winners := 0
	for _, r := range results {
		if !r.Duplicate {
			winners++
		}
		assert.Equal(t, results[0].EntityID, r.EntityID)
	}
	assert.Equal(t, 1, winners)
	assert.EqualValues(t, 1, count(t, db, "t1", &models.ImportedDocument{}))
	assert.EqualValues(t, 1, count(t, db, "t1", &models.PostingRecord{}))
}

type failingPoster struct{ calls int }

func (p *failingPoster) CreateEntity(context.Context, *gorm.DB, Candidate, string, string) error {
	p.calls++
	return errors.New("ledger unavailable")
}

func TestPostRollsBackRegistrationOnEntityFailure(t *testing.T) {
	db := testutil.NewTestDB(t)
	poster := &failingPoster{}
	svc := NewService(db, testutil.NewLogger(), poster)

	_, err := svc.Post(context.Background(), candidate("t1", "TRX1"))
	require.Error(t, err)
	assert.EqualValues(t, 0, count(t, db, "t1", &models.PostingRecord{}))

	ok := NewService(db, testutil.NewLogger(), nil)
	res, err := ok.Post(context.Background(), candidate("t1", "TRX1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestCheckAndRegister(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, testutil.NewLogger(), nil)
	ctx := context.Background()

	rec := models.PostingRecord{PostingKey: "k1", EntityType: "expense", EntityId: "e1"}
	stored, dup, err := svc.CheckAndRegister(ctx, "t1", rec)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, "t1", stored.TenantId)

	rec.EntityId = "e2"
	stored, dup, err = svc.CheckAndRegister(ctx, "t1", rec)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "e1", stored.EntityId)
}
