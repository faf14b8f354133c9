package service_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	stockrepo "github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/testutil"
)

func inwardItem(productID string, qty int64, unitPrice string) *repository.InwardItem {
	price := decimal.RequireFromString(unitPrice)
	quantity := decimal.NewFromInt(qty)
	return &repository.InwardItem{
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  price,
		TotalPrice: price.Mul(quantity),
	}
}

func inwardReceipt(orderID *string, items ...*repository.InwardItem) *repository.InwardReceipt {
	inward := &repository.InwardReceipt{OrderID: orderID, Items: items}
	for _, item := range items {
		inward.TotalAmount = inward.TotalAmount.Add(item.TotalPrice)
		inward.TotalQuantity = inward.TotalQuantity.Add(item.Quantity)
	}
	return inward
}

func TestReceive_AssignsNumberAndDefaults(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newInwardService()

	inward := inwardReceipt(nil, inwardItem(suite.Fixtures.ProductID(), 5, "3.00"))
	require.NoError(t, svc.Receive(ctx, inward))
	assert.Equal(t, testutil.DocumentNo("IN", 1), inward.InwardNo)
	assert.Equal(t, repository.InwardStatusPending, inward.Status)
	assert.False(t, inward.ReceivedAt.IsZero())

	// Receiving alone moves no stock.
	onHand, err := stockrepo.NewLotRepository(suite.DB).OnHand(ctx, inward.Items[0].ProductID)
	require.NoError(t, err)
	assert.True(t, onHand.IsZero())
}

func TestReceive_TotalMismatch(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newInwardService()

	inward := inwardReceipt(nil, inwardItem(suite.Fixtures.ProductID(), 5, "3.00"))
	inward.TotalAmount = inward.TotalAmount.Add(decimal.NewFromInt(2))

	err := svc.Receive(ctx, inward)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTotalMismatch))
}

func TestReceive_RejectsCancelledOrder(t *testing.T) {
	ctx := suite.Reset(t)
	orderSvc := newOrderService()
	inwardSvc := newInwardService()

	order := orderFromFixture(suite.Fixtures.Order())
	require.NoError(t, orderSvc.Create(ctx, order))
	require.NoError(t, orderSvc.Cancel(ctx, order.ID))

	inward := inwardReceipt(&order.ID, inwardItem(order.Items[0].ProductID, 2, "5.00"))
	err := inwardSvc.Receive(ctx, inward)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestComplete_CreatesLots(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newInwardService()
	lotRepo := stockrepo.NewLotRepository(suite.DB)

	productA := suite.Fixtures.ProductID()
	productB := suite.Fixtures.ProductID()
	batch := "B-2026-001"
	expiry := time.Now().UTC().AddDate(1, 0, 0).Truncate(24 * time.Hour)

	itemA := inwardItem(productA, 5, "3.00")
	itemA.BatchNumber = &batch
	itemA.ExpiryDate = &expiry
	itemB := inwardItem(productB, 2, "7.50")

	inward := inwardReceipt(nil, itemA, itemB)
	require.NoError(t, svc.Receive(ctx, inward))

	completed, err := svc.Complete(ctx, inward.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InwardStatusCompleted, completed.Status)

	lotsA, err := lotRepo.ListByProduct(ctx, productA)
	require.NoError(t, err)
	require.Len(t, lotsA, 1)
	assert.Equal(t, stockrepo.LotSourceInward, lotsA[0].Source)
	require.NotNil(t, lotsA[0].SourceInwardID)
	assert.Equal(t, inward.ID, *lotsA[0].SourceInwardID)
	require.NotNil(t, lotsA[0].BatchNumber)
	assert.Equal(t, batch, *lotsA[0].BatchNumber)
	require.NotNil(t, lotsA[0].ExpiryDate)
	assert.True(t, lotsA[0].RemainingQuantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, lotsA[0].UnitPrice.Equal(decimal.RequireFromString("3.00")))

	lotsB, err := lotRepo.ListByProduct(ctx, productB)
	require.NoError(t, err)
	require.Len(t, lotsB, 1)

	// Completing a second time fails and creates nothing.
	_, err = svc.Complete(ctx, inward.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyProcessed))

	lotsA, err = lotRepo.ListByProduct(ctx, productA)
	require.NoError(t, err)
	assert.Len(t, lotsA, 1)
}

func TestComplete_AppliesOrderFulfillment(t *testing.T) {
	ctx := suite.Reset(t)
	orderSvc := newOrderService()
	inwardSvc := newInwardService()

	productID := suite.Fixtures.ProductID()
	order := orderFromFixture(suite.Fixtures.Order(
		testutil.WithOrderItems(testutil.OrderItem(productID, 10, "5.00")),
	))
	require.NoError(t, orderSvc.Create(ctx, order))

	// First receipt covers 6 of 10: the line is partial, the order approved.
	first := inwardReceipt(&order.ID, inwardItem(productID, 6, "5.00"))
	require.NoError(t, inwardSvc.Receive(ctx, first))
	_, err := inwardSvc.Complete(ctx, first.ID)
	require.NoError(t, err)

	reloaded, err := orderSvc.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.OrderStatusApproved, reloaded.Status)
	require.Len(t, reloaded.Items, 1)
	assert.Equal(t, repository.OrderItemStatusPartial, reloaded.Items[0].Status)
	assert.True(t, reloaded.Items[0].ReceivedQuantity.Equal(decimal.NewFromInt(6)))
	assert.True(t, reloaded.Items[0].UnusedQuantity.Equal(decimal.NewFromInt(4)))
	assert.True(t, reloaded.Items[0].ExcessQuantity.IsZero())

	// Second receipt overshoots by 1: the line is received with excess 1,
	// the order completed.
	second := inwardReceipt(&order.ID, inwardItem(productID, 5, "5.00"))
	require.NoError(t, inwardSvc.Receive(ctx, second))
	_, err = inwardSvc.Complete(ctx, second.ID)
	require.NoError(t, err)

	reloaded, err = orderSvc.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.OrderStatusCompleted, reloaded.Status)
	assert.Equal(t, repository.OrderItemStatusReceived, reloaded.Items[0].Status)
	assert.True(t, reloaded.Items[0].ReceivedQuantity.Equal(decimal.NewFromInt(11)))
	assert.True(t, reloaded.Items[0].UnusedQuantity.IsZero())
	assert.True(t, reloaded.Items[0].ExcessQuantity.Equal(decimal.NewFromInt(1)))
}

func TestComplete_UnorderedProductIsExcess(t *testing.T) {
	ctx := suite.Reset(t)
	orderSvc := newOrderService()
	inwardSvc := newInwardService()

	ordered := suite.Fixtures.ProductID()
	stray := suite.Fixtures.ProductID()
	order := orderFromFixture(suite.Fixtures.Order(
		testutil.WithOrderItems(testutil.OrderItem(ordered, 10, "5.00")),
	))
	require.NoError(t, orderSvc.Create(ctx, order))

	inward := inwardReceipt(&order.ID,
		inwardItem(ordered, 10, "5.00"),
		inwardItem(stray, 3, "1.00"),
	)
	require.NoError(t, inwardSvc.Receive(ctx, inward))
	_, err := inwardSvc.Complete(ctx, inward.ID)
	require.NoError(t, err)

	reloaded, err := inwardSvc.GetByID(ctx, inward.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Items, 2)
	for _, item := range reloaded.Items {
		if item.ProductID == stray {
			assert.True(t, item.ExcessQuantity.Equal(decimal.NewFromInt(3)))
		}
	}

	// The stray product still became stock.
	onHand, err := stockrepo.NewLotRepository(suite.DB).OnHand(ctx, stray)
	require.NoError(t, err)
	assert.True(t, onHand.Equal(decimal.NewFromInt(3)))
}

func TestInwardCancel(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newInwardService()

	inward := inwardReceipt(nil, inwardItem(suite.Fixtures.ProductID(), 5, "3.00"))
	require.NoError(t, svc.Receive(ctx, inward))
	require.NoError(t, svc.Cancel(ctx, inward.ID))

	err := svc.Cancel(ctx, inward.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyProcessed))

	_, err = svc.Complete(ctx, inward.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestInwardCancel_CompletedRejected(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newInwardService()

	inward := inwardReceipt(nil, inwardItem(suite.Fixtures.ProductID(), 5, "3.00"))
	require.NoError(t, svc.Receive(ctx, inward))
	_, err := svc.Complete(ctx, inward.ID)
	require.NoError(t, err)

	err = svc.Cancel(ctx, inward.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}
