package service_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/service"
	stockrepo "github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
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

func newOrderService() *service.OrderService {
	return service.NewOrderService(
		suite.DB,
		repository.NewOrderRepository(suite.DB),
		repository.NewSequenceRepository(suite.DB),
		nil, // no event publisher needed for service tests
		decimal.RequireFromString("0.01"),
		logger.New("test", "test"),
	)
}

func newInwardService() *service.InwardService {
	return service.NewInwardService(
		suite.DB,
		repository.NewInwardRepository(suite.DB),
		repository.NewOrderRepository(suite.DB),
		repository.NewSequenceRepository(suite.DB),
		stockrepo.NewLotRepository(suite.DB),
		nil,
		nil,
		decimal.RequireFromString("0.01"),
		logger.New("test", "test"),
	)
}

func orderFromFixture(fixture testutil.OrderFixture) *repository.PurchaseOrder {
	order := &repository.PurchaseOrder{
		VendorID:      fixture.VendorID,
		TotalAmount:   fixture.TotalAmount,
		TotalQuantity: fixture.TotalQuantity,
	}
	for _, item := range fixture.Items {
		order.Items = append(order.Items, &repository.PurchaseOrderItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		})
	}
	return order
}

func TestOrderCreate_AssignsSequentialNumbers(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newOrderService()

	for i := 1; i <= 2; i++ {
		order := orderFromFixture(suite.Fixtures.Order())
		require.NoError(t, svc.Create(ctx, order))
		assert.Equal(t, testutil.DocumentNo("PO", i), order.PONo)
		assert.Equal(t, repository.OrderStatusPending, order.Status)
	}
}

func TestOrderCreate_Validation(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newOrderService()

	t.Run("empty items", func(t *testing.T) {
		order := orderFromFixture(suite.Fixtures.Order())
		order.Items = nil
		err := svc.Create(ctx, order)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		order := orderFromFixture(suite.Fixtures.Order())
		order.Items[0].Quantity = decimal.Zero
		err := svc.Create(ctx, order)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))
	})

	t.Run("amount mismatch", func(t *testing.T) {
		order := orderFromFixture(suite.Fixtures.Order())
		order.TotalAmount = order.TotalAmount.Add(decimal.NewFromInt(5))
		err := svc.Create(ctx, order)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrTotalMismatch))
	})

	t.Run("quantity mismatch", func(t *testing.T) {
		order := orderFromFixture(suite.Fixtures.Order())
		order.TotalQuantity = order.TotalQuantity.Add(decimal.NewFromInt(1))
		err := svc.Create(ctx, order)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrTotalMismatch))
	})
}

func TestOrderUpdate_PendingOnly(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newOrderService()

	order := orderFromFixture(suite.Fixtures.Order())
	require.NoError(t, svc.Create(ctx, order))

	productID := suite.Fixtures.ProductID()
	updated := orderFromFixture(suite.Fixtures.Order(
		testutil.WithOrderItems(testutil.OrderItem(productID, 20, "2.00")),
	))
	updated.ID = order.ID
	require.NoError(t, svc.Update(ctx, updated))

	reloaded, err := svc.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PONo, reloaded.PONo)
	require.Len(t, reloaded.Items, 1)
	assert.Equal(t, productID, reloaded.Items[0].ProductID)
	assert.True(t, reloaded.TotalAmount.Equal(decimal.RequireFromString("40.00")))

	require.NoError(t, svc.Cancel(ctx, order.ID))

	again := orderFromFixture(suite.Fixtures.Order())
	again.ID = order.ID
	err = svc.Update(ctx, again)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestOrderCancel(t *testing.T) {
	ctx := suite.Reset(t)
	svc := newOrderService()

	order := orderFromFixture(suite.Fixtures.Order())
	require.NoError(t, svc.Create(ctx, order))

	require.NoError(t, svc.Cancel(ctx, order.ID))
	reloaded, err := svc.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.OrderStatusCancelled, reloaded.Status)

	err = svc.Cancel(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyProcessed))
}

func TestOrderCancel_BlockedByCompletedInward(t *testing.T) {
	ctx := suite.Reset(t)
	orderSvc := newOrderService()
	inwardSvc := newInwardService()

	productID := suite.Fixtures.ProductID()
	order := orderFromFixture(suite.Fixtures.Order(
		testutil.WithOrderItems(testutil.OrderItem(productID, 10, "5.00")),
	))
	require.NoError(t, orderSvc.Create(ctx, order))

	inward := inwardReceipt(&order.ID, inwardItem(productID, 4, "5.00"))
	require.NoError(t, inwardSvc.Receive(ctx, inward))
	_, err := inwardSvc.Complete(ctx, inward.ID)
	require.NoError(t, err)

	err = orderSvc.Cancel(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}
