package service_test

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingrepo "github.com/pharmaflow/pharmaflow-backend/internal/billing/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/locking"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}
	defer testutil.TerminateContainer(ctx)

	os.Exit(m.Run())
}

func newAllocator(lockTimeout time.Duration) *service.Allocator {
	lotRepo := repository.NewLotRepository(suite.DB)
	allocRepo := repository.NewAllocationRepository(suite.DB)
	locks := locking.New(lockTimeout)
	return service.NewAllocator(
		suite.DB, lotRepo, allocRepo, locks,
		nil, // no event publisher needed for allocation tests
		logger.New("test", "test"),
	)
}

func createLot(t *testing.T, ctx context.Context, fixture testutil.LotFixture) *repository.Lot {
	t.Helper()
	lotRepo := repository.NewLotRepository(suite.DB)
	lot := &repository.Lot{
		ID:               fixture.ID,
		ProductID:        fixture.ProductID,
		Source:           fixture.Source,
		UnitPrice:        fixture.UnitPrice,
		ExpiryDate:       fixture.ExpiryDate,
		ReceivedAt:       fixture.ReceivedAt,
		OriginalQuantity: fixture.Quantity,
	}
	require.NoError(t, lotRepo.Create(ctx, lot))
	return lot
}

// createBillingItem seeds a draft billing document with a single line so
// allocations have a line item to reference.
func createBillingItem(t *testing.T, ctx context.Context, productID string, qty int64) string {
	t.Helper()
	billingRepo := billingrepo.NewBillingRepository(suite.DB)

	quantity := decimal.NewFromInt(qty)
	price := decimal.RequireFromString("10.00")
	doc := &billingrepo.BillingDocument{
		BillNo:      uuid.New().String(),
		TotalAmount: price.Mul(quantity),
		Items: []*billingrepo.BillingItem{{
			ProductID:  productID,
			Quantity:   quantity,
			UnitPrice:  price,
			TotalPrice: price.Mul(quantity),
		}},
	}

	err := suite.DB.Transaction(ctx, func(tx *sqlx.Tx) error {
		return billingRepo.CreateTx(ctx, tx, doc)
	})
	require.NoError(t, err)
	return doc.Items[0].ID
}

func TestAllocate_DrainsLotsInReceiptOrder(t *testing.T) {
	ctx := suite.Reset(t)
	allocator := newAllocator(2 * time.Second)
	lotRepo := repository.NewLotRepository(suite.DB)

	productID := suite.Fixtures.ProductID()
	base := time.Now().UTC().Add(-48 * time.Hour)
	first := createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(5),
		testutil.WithReceivedAt(base),
	))
	second := createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(2),
		testutil.WithReceivedAt(base.Add(time.Hour)),
	))

	itemID := createBillingItem(t, ctx, productID, 7)
	allocs, err := allocator.Allocate(ctx, productID, itemID, decimal.NewFromInt(7))
	require.NoError(t, err)
	require.Len(t, allocs, 2)

	assert.Equal(t, first.ID, allocs[0].LotID)
	assert.True(t, allocs[0].Quantity.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, second.ID, allocs[1].LotID)
	assert.True(t, allocs[1].Quantity.Equal(decimal.NewFromInt(2)))

	// Allocated quantities always sum to the requested quantity, and the
	// on-hand total drops by exactly that amount.
	total := decimal.Zero
	for _, alloc := range allocs {
		total = total.Add(alloc.Quantity)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(7)))

	onHand, err := lotRepo.OnHand(ctx, productID)
	require.NoError(t, err)
	assert.True(t, onHand.IsZero(), "expected zero on-hand, got %s", onHand)
}

func TestAllocate_PrefersEarliestExpiry(t *testing.T) {
	ctx := suite.Reset(t)
	allocator := newAllocator(2 * time.Second)

	productID := suite.Fixtures.ProductID()
	base := time.Now().UTC().Add(-48 * time.Hour)
	farExpiry := time.Now().UTC().AddDate(1, 0, 0)
	nearExpiry := time.Now().UTC().AddDate(0, 1, 0)

	// Received first but expires later.
	createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
		testutil.WithReceivedAt(base),
		testutil.WithExpiry(farExpiry),
	))
	nearest := createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
		testutil.WithReceivedAt(base.Add(time.Hour)),
		testutil.WithExpiry(nearExpiry),
	))

	itemID := createBillingItem(t, ctx, productID, 3)
	allocs, err := allocator.Allocate(ctx, productID, itemID, decimal.NewFromInt(3))
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, nearest.ID, allocs[0].LotID)
}

func TestAllocate_UndatedLotsRankLast(t *testing.T) {
	ctx := suite.Reset(t)
	allocator := newAllocator(2 * time.Second)

	productID := suite.Fixtures.ProductID()
	base := time.Now().UTC().Add(-48 * time.Hour)

	// Received first but carries no expiry date.
	createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
		testutil.WithReceivedAt(base),
	))
	dated := createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
		testutil.WithReceivedAt(base.Add(time.Hour)),
		testutil.WithExpiry(time.Now().UTC().AddDate(1, 0, 0)),
	))

	itemID := createBillingItem(t, ctx, productID, 4)
	allocs, err := allocator.Allocate(ctx, productID, itemID, decimal.NewFromInt(4))
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, dated.ID, allocs[0].LotID)
}

func TestAllocate_InsufficientStockRollsBack(t *testing.T) {
	ctx := suite.Reset(t)
	allocator := newAllocator(2 * time.Second)
	lotRepo := repository.NewLotRepository(suite.DB)
	allocRepo := repository.NewAllocationRepository(suite.DB)

	productID := suite.Fixtures.ProductID()
	lotA := createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(3),
	))
	lotB := createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(1),
	))

	itemID := createBillingItem(t, ctx, productID, 7)
	_, err := allocator.Allocate(ctx, productID, itemID, decimal.NewFromInt(7))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	// The partial debits inside the failed transaction must be undone.
	for lotID, want := range map[string]int64{lotA.ID: 3, lotB.ID: 1} {
		lot, err := lotRepo.GetByID(ctx, lotID)
		require.NoError(t, err)
		assert.True(t, lot.RemainingQuantity.Equal(decimal.NewFromInt(want)))
	}

	allocs, err := allocRepo.ListByBillingItem(ctx, itemID)
	require.NoError(t, err)
	assert.Empty(t, allocs)
}

func TestAllocate_RejectsNonPositiveQuantity(t *testing.T) {
	ctx := suite.Reset(t)
	allocator := newAllocator(2 * time.Second)

	productID := suite.Fixtures.ProductID()
	_, err := allocator.Allocate(ctx, productID, uuid.New().String(), decimal.Zero)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))

	_, err = allocator.Allocate(ctx, productID, uuid.New().String(), decimal.NewFromInt(-2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))
}

func TestAllocate_SkipsInactiveLots(t *testing.T) {
	ctx := suite.Reset(t)
	allocator := newAllocator(2 * time.Second)
	lotRepo := repository.NewLotRepository(suite.DB)

	productID := suite.Fixtures.ProductID()
	deactivated := createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
	))
	require.NoError(t, lotRepo.Deactivate(ctx, deactivated.ID))

	live := createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(2),
	))

	itemID := createBillingItem(t, ctx, productID, 2)
	allocs, err := allocator.Allocate(ctx, productID, itemID, decimal.NewFromInt(2))
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, live.ID, allocs[0].LotID)

	// More than the live lot holds cannot be served by the inactive one.
	otherItem := createBillingItem(t, ctx, productID, 1)
	_, err = allocator.Allocate(ctx, productID, otherItem, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
}

func TestAllocate_ConcurrentRequestsBothServed(t *testing.T) {
	ctx := suite.Reset(t)
	allocator := newAllocator(5 * time.Second)
	lotRepo := repository.NewLotRepository(suite.DB)

	productID := suite.Fixtures.ProductID()
	createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(7),
	))

	itemA := createBillingItem(t, ctx, productID, 3)
	itemB := createBillingItem(t, ctx, productID, 4)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, req := range []struct {
		itemID string
		qty    int64
	}{
		{itemA, 3},
		{itemB, 4},
	} {
		wg.Add(1)
		go func(i int, itemID string, qty int64) {
			defer wg.Done()
			_, errs[i] = allocator.Allocate(ctx, productID, itemID, decimal.NewFromInt(qty))
		}(i, req.itemID, req.qty)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	onHand, err := lotRepo.OnHand(ctx, productID)
	require.NoError(t, err)
	assert.True(t, onHand.IsZero(), "expected zero on-hand after both allocations, got %s", onHand)
}

func TestAllocate_BusyWhenProductLocked(t *testing.T) {
	ctx := suite.Reset(t)
	allocator := newAllocator(50 * time.Millisecond)

	productID := suite.Fixtures.ProductID()
	createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
	))

	release, err := allocator.LockProduct(ctx, productID)
	require.NoError(t, err)
	defer release()

	itemID := createBillingItem(t, ctx, productID, 1)
	_, err = allocator.Allocate(ctx, productID, itemID, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBusy))
}

func TestReverseTx_CreditsLotAndTracksReversal(t *testing.T) {
	ctx := suite.Reset(t)
	allocator := newAllocator(2 * time.Second)
	lotRepo := repository.NewLotRepository(suite.DB)
	allocRepo := repository.NewAllocationRepository(suite.DB)

	productID := suite.Fixtures.ProductID()
	lot := createLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
	))

	itemID := createBillingItem(t, ctx, productID, 6)
	allocs, err := allocator.Allocate(ctx, productID, itemID, decimal.NewFromInt(6))
	require.NoError(t, err)
	require.Len(t, allocs, 1)

	err = suite.DB.Transaction(ctx, func(tx *sqlx.Tx) error {
		return allocator.ReverseTx(ctx, tx, allocs[0], decimal.NewFromInt(4))
	})
	require.NoError(t, err)

	reloaded, err := lotRepo.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.RemainingQuantity.Equal(decimal.NewFromInt(8)))

	alloc, err := allocRepo.GetByID(ctx, allocs[0].ID)
	require.NoError(t, err)
	assert.True(t, alloc.ReversedQuantity.Equal(decimal.NewFromInt(4)))
	assert.True(t, alloc.Outstanding().Equal(decimal.NewFromInt(2)))

	// Crediting past the outstanding quantity fails and changes nothing.
	err = suite.DB.Transaction(ctx, func(tx *sqlx.Tx) error {
		return allocator.ReverseTx(ctx, tx, allocs[0], decimal.NewFromInt(3))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOverReturn))

	reloaded, err = lotRepo.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.RemainingQuantity.Equal(decimal.NewFromInt(8)))
}
