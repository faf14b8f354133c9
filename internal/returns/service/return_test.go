package service_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingrepo "github.com/pharmaflow/pharmaflow-backend/internal/billing/repository"
	billingservice "github.com/pharmaflow/pharmaflow-backend/internal/billing/service"
	procrepo "github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/returns/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/returns/service"
	stockrepo "github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	stockservice "github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
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

func newAllocator() *stockservice.Allocator {
	return stockservice.NewAllocator(
		suite.DB,
		stockrepo.NewLotRepository(suite.DB),
		stockrepo.NewAllocationRepository(suite.DB),
		locking.New(2*time.Second),
		nil, // no event publisher needed for service tests
		logger.New("test", "test"),
	)
}

func newReturnService() *service.ReturnService {
	return service.NewReturnService(
		suite.DB,
		repository.NewReturnRepository(suite.DB),
		stockrepo.NewAllocationRepository(suite.DB),
		stockrepo.NewLotRepository(suite.DB),
		procrepo.NewSequenceRepository(suite.DB),
		newAllocator(),
		nil,
		nil,
		logger.New("test", "test"),
	)
}

func newBillingService() *billingservice.BillingService {
	return billingservice.NewBillingService(
		suite.DB,
		billingrepo.NewBillingRepository(suite.DB),
		procrepo.NewSequenceRepository(suite.DB),
		newAllocator(),
		nil,
		nil,
		decimal.RequireFromString("0.01"),
		logger.New("test", "test"),
	)
}

func seedLot(t *testing.T, ctx context.Context, fixture testutil.LotFixture) *stockrepo.Lot {
	t.Helper()
	lotRepo := stockrepo.NewLotRepository(suite.DB)
	lot := &stockrepo.Lot{
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

// finalizeBilling seeds a finalized billing document with one line of the
// given quantity, consuming stock from the product's lots.
func finalizeBilling(t *testing.T, ctx context.Context, productID string, qty int64) *billingrepo.BillingDocument {
	t.Helper()

	quantity := decimal.NewFromInt(qty)
	price := decimal.RequireFromString("10.00")
	doc := &billingrepo.BillingDocument{
		TotalAmount: price.Mul(quantity),
		Items: []*billingrepo.BillingItem{{
			ProductID:  productID,
			Quantity:   quantity,
			UnitPrice:  price,
			TotalPrice: price.Mul(quantity),
		}},
	}

	finalized, err := newBillingService().Finalize(ctx, doc, decimal.Zero)
	require.NoError(t, err)
	return finalized
}

func partialReturn(billingID string, productID string, qty int64, lotIDs ...string) *repository.Return {
	quantity := decimal.NewFromInt(qty)
	price := decimal.RequireFromString("10.00")
	return &repository.Return{
		ReturnType: repository.ReturnTypePartial,
		BillingID:  &billingID,
		Items: []*repository.ReturnItem{{
			ProductID:  productID,
			Quantity:   quantity,
			UnitPrice:  price,
			TotalPrice: price.Mul(quantity),
			LotIDs:     pq.StringArray(lotIDs),
		}},
	}
}

func customerReturn(productID string, qty int64) *repository.Return {
	quantity := decimal.NewFromInt(qty)
	price := decimal.RequireFromString("10.00")
	return &repository.Return{
		ReturnType: repository.ReturnTypeCustomer,
		Items: []*repository.ReturnItem{{
			ProductID:  productID,
			Quantity:   quantity,
			UnitPrice:  price,
			TotalPrice: price.Mul(quantity),
		}},
	}
}

func onHand(t *testing.T, ctx context.Context, productID string) decimal.Decimal {
	t.Helper()
	total, err := stockrepo.NewLotRepository(suite.DB).OnHand(ctx, productID)
	require.NoError(t, err)
	return total
}

func TestProcess_PartialReturnRestoresStock(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newReturnService()

	productID := suite.Fixtures.ProductID()
	lot := seedLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
	))
	billing := finalizeBilling(t, ctx, productID, 4)
	require.True(t, onHand(t, ctx, productID).Equal(decimal.NewFromInt(6)))

	ret := partialReturn(billing.ID, productID, 3, lot.ID)
	require.NoError(t, svc.Create(ctx, ret))
	assert.Equal(t, testutil.DocumentNo("RT", 1), ret.ReturnNo)
	assert.Equal(t, repository.ReturnStatusPending, ret.Status)

	processed, err := svc.Process(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ReturnStatusProcessed, processed.Status)
	assert.True(t, onHand(t, ctx, productID).Equal(decimal.NewFromInt(9)))

	// The credit is recorded against the originating allocation.
	allocs, err := stockrepo.NewAllocationRepository(suite.DB).ListByBillingItem(ctx, billing.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.True(t, allocs[0].ReversedQuantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, allocs[0].Outstanding().Equal(decimal.NewFromInt(1)))
}

func TestCreate_OverReturnRejected(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newReturnService()

	productID := suite.Fixtures.ProductID()
	lot := seedLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
	))
	billing := finalizeBilling(t, ctx, productID, 4)

	err := svc.Create(ctx, partialReturn(billing.ID, productID, 5, lot.ID))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOverReturn))
	assert.True(t, onHand(t, ctx, productID).Equal(decimal.NewFromInt(6)))
}

func TestProcess_OverReturnAfterCreate(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newReturnService()

	productID := suite.Fixtures.ProductID()
	lot := seedLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
	))
	billing := finalizeBilling(t, ctx, productID, 4)

	// Two pending returns that each pass the create-time check but cannot
	// both be honored. The second process call must fail at the
	// authoritative row-locked check and move nothing.
	first := partialReturn(billing.ID, productID, 3, lot.ID)
	second := partialReturn(billing.ID, productID, 3, lot.ID)
	require.NoError(t, svc.Create(ctx, first))
	require.NoError(t, svc.Create(ctx, second))

	_, err := svc.Process(ctx, first.ID)
	require.NoError(t, err)

	_, err = svc.Process(ctx, second.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOverReturn))

	reloaded, err := svc.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ReturnStatusPending, reloaded.Status)
	assert.True(t, onHand(t, ctx, productID).Equal(decimal.NewFromInt(9)))
}

func TestProcess_Idempotent(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newReturnService()

	productID := suite.Fixtures.ProductID()
	lot := seedLot(t, ctx, suite.Fixtures.Lot(
		testutil.WithProduct(productID),
		testutil.WithQuantity(10),
	))
	billing := finalizeBilling(t, ctx, productID, 4)

	ret := partialReturn(billing.ID, productID, 2, lot.ID)
	require.NoError(t, svc.Create(ctx, ret))

	_, err := svc.Process(ctx, ret.ID)
	require.NoError(t, err)
	after := onHand(t, ctx, productID)

	_, err = svc.Process(ctx, ret.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyProcessed))
	assert.True(t, onHand(t, ctx, productID).Equal(after))
}

func TestProcess_CustomerReturnCreatesLot(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newReturnService()

	productID := suite.Fixtures.ProductID()
	ret := customerReturn(productID, 5)
	require.NoError(t, svc.Create(ctx, ret))

	_, err := svc.Process(ctx, ret.ID)
	require.NoError(t, err)

	lots, err := stockrepo.NewLotRepository(suite.DB).ListByProduct(ctx, productID)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, stockrepo.LotSourceReturn, lots[0].Source)
	assert.True(t, lots[0].RemainingQuantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, onHand(t, ctx, productID).Equal(decimal.NewFromInt(5)))

	// Returned stock is valued separately from organic receipts.
	organic, returned, err := stockrepo.NewLotRepository(suite.DB).Valuation(ctx, productID)
	require.NoError(t, err)
	assert.True(t, organic.IsZero())
	assert.True(t, returned.Equal(decimal.RequireFromString("50.00")))
}

func TestCreate_Validation(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newReturnService()
	productID := suite.Fixtures.ProductID()

	t.Run("empty items", func(t *testing.T) {
		err := svc.Create(ctx, &repository.Return{ReturnType: repository.ReturnTypeCustomer})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	})

	t.Run("unknown type", func(t *testing.T) {
		ret := customerReturn(productID, 1)
		ret.ReturnType = "vendor"
		require.Error(t, svc.Create(ctx, ret))
	})

	t.Run("partial without billing reference", func(t *testing.T) {
		ret := customerReturn(productID, 1)
		ret.ReturnType = repository.ReturnTypePartial
		require.Error(t, svc.Create(ctx, ret))
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		ret := customerReturn(productID, 1)
		ret.Items[0].Quantity = decimal.Zero
		err := svc.Create(ctx, ret)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))
	})
}

func TestUpdate_PendingOnly(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newReturnService()

	productID := suite.Fixtures.ProductID()
	ret := customerReturn(productID, 5)
	require.NoError(t, svc.Create(ctx, ret))

	updated := customerReturn(productID, 3)
	updated.ID = ret.ID
	require.NoError(t, svc.Update(ctx, updated))

	reloaded, err := svc.GetByID(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, ret.ReturnNo, reloaded.ReturnNo)
	require.Len(t, reloaded.Items, 1)
	assert.True(t, reloaded.Items[0].Quantity.Equal(decimal.NewFromInt(3)))

	_, err = svc.Process(ctx, ret.ID)
	require.NoError(t, err)

	again := customerReturn(productID, 1)
	again.ID = ret.ID
	err = svc.Update(ctx, again)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestStateMachine(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newReturnService()
	productID := suite.Fixtures.ProductID()

	// seed builds a return in the given starting status
	seed := func(t *testing.T, status string) *repository.Return {
		t.Helper()
		ret := customerReturn(productID, 2)
		require.NoError(t, svc.Create(ctx, ret))
		switch status {
		case repository.ReturnStatusProcessed:
			_, err := svc.Process(ctx, ret.ID)
			require.NoError(t, err)
		case repository.ReturnStatusCancelled:
			require.NoError(t, svc.Cancel(ctx, ret.ID))
		case repository.ReturnStatusDeleted:
			require.NoError(t, svc.Delete(ctx, ret.ID))
		}
		return ret
	}

	tests := []struct {
		name    string
		status  string
		op      func(id string) error
		wantErr error
	}{
		{"cancel pending", repository.ReturnStatusPending, func(id string) error { return svc.Cancel(ctx, id) }, nil},
		{"cancel processed", repository.ReturnStatusProcessed, func(id string) error { return svc.Cancel(ctx, id) }, errors.ErrInvalidState},
		{"cancel cancelled", repository.ReturnStatusCancelled, func(id string) error { return svc.Cancel(ctx, id) }, errors.ErrAlreadyProcessed},
		{"cancel deleted", repository.ReturnStatusDeleted, func(id string) error { return svc.Cancel(ctx, id) }, errors.ErrInvalidState},
		{"process cancelled", repository.ReturnStatusCancelled, func(id string) error { _, err := svc.Process(ctx, id); return err }, errors.ErrInvalidState},
		{"process deleted", repository.ReturnStatusDeleted, func(id string) error { _, err := svc.Process(ctx, id); return err }, errors.ErrInvalidState},
		{"delete pending", repository.ReturnStatusPending, func(id string) error { return svc.Delete(ctx, id) }, nil},
		{"delete processed", repository.ReturnStatusProcessed, func(id string) error { return svc.Delete(ctx, id) }, nil},
		{"delete deleted", repository.ReturnStatusDeleted, func(id string) error { return svc.Delete(ctx, id) }, errors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := seed(t, tt.status)
			err := tt.op(ret.ID)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestDelete_ProcessedReturnKeepsStock(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newReturnService()

	productID := suite.Fixtures.ProductID()
	ret := customerReturn(productID, 5)
	require.NoError(t, svc.Create(ctx, ret))
	_, err := svc.Process(ctx, ret.ID)
	require.NoError(t, err)
	require.True(t, onHand(t, ctx, productID).Equal(decimal.NewFromInt(5)))

	require.NoError(t, svc.Delete(ctx, ret.ID))

	// Deletion hides the document but never reverses its stock effect.
	assert.True(t, onHand(t, ctx, productID).Equal(decimal.NewFromInt(5)))

	all, err := svc.GetAll(ctx, "")
	require.NoError(t, err)
	for _, r := range all {
		assert.NotEqual(t, ret.ID, r.ID)
	}

	reloaded, err := svc.GetByID(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ReturnStatusDeleted, reloaded.Status)
}
