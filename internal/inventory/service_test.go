package inventory_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/inventory"
	"github.com/jmerrifield20/stockledger/internal/ledger"
)

const (
	alice = "alice@x.com"
	bob   = "bob@x.com"
)

func newService(t *testing.T) (*inventory.Service, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())
	return inventory.NewService(inventory.NewMemoryRepository(), l, zap.NewNop()), l
}

func payloadOf(t *testing.T, e *ledger.Entry) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(e.Payload, &m))
	return m
}

func createProduct(t *testing.T, svc *inventory.Service, name string, price, stock int64) *inventory.Product {
	t.Helper()
	ctx := context.Background()
	p, _, err := svc.CreateProduct(ctx, inventory.ProductInput{Name: name, Category: "tools", Price: price}, alice)
	require.NoError(t, err)
	if stock > 0 {
		_, _, err = svc.ReceiveStock(ctx, p.ID, stock, alice)
		require.NoError(t, err)
	}
	return p
}

func TestCreateProduct_recordsCreateEntry(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()

	p, e, err := svc.CreateProduct(ctx, inventory.ProductInput{Name: "Hammer", Price: 1299}, alice)
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, int64(0), e.Sequence)
	assert.Equal(t, ledger.ActionCreate, e.Action)
	assert.Equal(t, alice, e.SignerID)
	assert.Equal(t, p.ID.String(), payloadOf(t, e)["productId"])

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := svc.GetStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, st.Quantity)
}

func TestCreateProduct_duplicateNameAppendsNothing(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()
	createProduct(t, svc, "Hammer", 100, 0)

	_, _, err := svc.CreateProduct(ctx, inventory.ProductInput{Name: "hammer"}, alice)
	assert.ErrorIs(t, err, inventory.ErrDuplicate)

	n, _ := l.Len(ctx)
	assert.Equal(t, int64(1), n)
}

func TestCreateProduct_validation(t *testing.T) {
	svc, _ := newService(t)
	tests := []inventory.ProductInput{
		{Name: ""},
		{Name: "   "},
		{Name: "Saw", Price: -1},
	}
	for _, in := range tests {
		_, _, err := svc.CreateProduct(context.Background(), in, alice)
		assert.ErrorIs(t, err, inventory.ErrInvalidInput, "input %+v", in)
	}
}

func TestUpdateAndDeleteProduct(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()
	p := createProduct(t, svc, "Hammer", 100, 0)

	up, e, err := svc.UpdateProduct(ctx, p.ID, inventory.ProductInput{Name: "Claw hammer", Price: 150}, bob)
	require.NoError(t, err)
	assert.Equal(t, "Claw hammer", up.Name)
	assert.Equal(t, ledger.ActionUpdate, e.Action)
	assert.Equal(t, bob, e.SignerID)

	e, err = svc.DeleteProduct(ctx, p.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, ledger.ActionDelete, e.Action)
	assert.Equal(t, "Claw hammer", payloadOf(t, e)["name"])

	_, err = svc.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	_, err = svc.DeleteProduct(ctx, p.ID, bob)
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	res, err := l.VerifyAll(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, int64(3), res.Checked)
}

func TestReceiveStock(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := createProduct(t, svc, "Nails", 5, 0)

	st, e, err := svc.ReceiveStock(ctx, p.ID, 40, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(40), st.Quantity)
	assert.EqualValues(t, 40, payloadOf(t, e)["quantity"])

	_, _, err = svc.ReceiveStock(ctx, p.ID, 0, alice)
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
	_, _, err = svc.ReceiveStock(ctx, uuid.New(), 3, alice)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestCheckout(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	hammer := createProduct(t, svc, "Hammer", 1000, 5)
	nails := createProduct(t, svc, "Nails", 5, 100)

	sale, e, err := svc.Checkout(ctx, inventory.CheckoutInput{
		Customer: "walk-in",
		Items: []inventory.CheckoutLine{
			{ProductID: hammer.ID, Quantity: 1},
			{ProductID: nails.ID, Quantity: 20},
			{ProductID: hammer.ID, Quantity: 1},
		},
		AmountPaid: 500,
	}, alice)
	require.NoError(t, err)

	assert.Len(t, sale.Items, 2)
	assert.Equal(t, int64(2100), sale.Total)
	assert.Equal(t, int64(1600), sale.Balance())
	assert.Equal(t, ledger.ActionCreate, e.Action)
	assert.Equal(t, sale.ID.String(), payloadOf(t, e)["saleId"])

	st, _ := svc.GetStock(ctx, hammer.ID)
	assert.Equal(t, int64(3), st.Quantity)
	st, _ = svc.GetStock(ctx, nails.ID)
	assert.Equal(t, int64(80), st.Quantity)
}

func TestCheckout_insufficientStockChangesNothing(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()
	hammer := createProduct(t, svc, "Hammer", 1000, 5)
	nails := createProduct(t, svc, "Nails", 5, 2)
	before, _ := l.Len(ctx)

	_, _, err := svc.Checkout(ctx, inventory.CheckoutInput{Items: []inventory.CheckoutLine{
		{ProductID: hammer.ID, Quantity: 1},
		{ProductID: nails.ID, Quantity: 3},
	}}, alice)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	st, _ := svc.GetStock(ctx, hammer.ID)
	assert.Equal(t, int64(5), st.Quantity)
	after, _ := l.Len(ctx)
	assert.Equal(t, before, after)
}

func TestCheckout_validation(t *testing.T) {
	svc, _ := newService(t)
	p := createProduct(t, svc, "Hammer", 1000, 5)

	tests := map[string]inventory.CheckoutInput{
		"no items":      {},
		"zero quantity": {Items: []inventory.CheckoutLine{{ProductID: p.ID}}},
		"overpaid":      {Items: []inventory.CheckoutLine{{ProductID: p.ID, Quantity: 1}}, AmountPaid: 1001},
		"negative paid": {Items: []inventory.CheckoutLine{{ProductID: p.ID, Quantity: 1}}, AmountPaid: -1},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.Checkout(context.Background(), in, alice)
			assert.ErrorIs(t, err, inventory.ErrInvalidInput)
		})
	}
}

func TestCheckout_amountsOutOfRange(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()
	gold := createProduct(t, svc, "Gold", 1<<40, 1)
	nails := createProduct(t, svc, "Nails", 1, 1)
	screws := createProduct(t, svc, "Screws", 1, 1)
	sample := createProduct(t, svc, "Sample", 0, 1)
	before, _ := l.Len(ctx)

	tests := map[string][]inventory.CheckoutLine{
		"line total": {{ProductID: gold.ID, Quantity: 1 << 24}},
		"sale total": {
			{ProductID: nails.ID, Quantity: math.MaxInt64},
			{ProductID: screws.ID, Quantity: 1},
		},
		"merged quantity": {
			{ProductID: sample.ID, Quantity: math.MaxInt64},
			{ProductID: sample.ID, Quantity: 1},
		},
	}
	for name, items := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.Checkout(ctx, inventory.CheckoutInput{Items: items}, alice)
			assert.ErrorIs(t, err, inventory.ErrInvalidInput)
		})
	}

	sales, err := svc.ListSales(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, sales)
	after, _ := l.Len(ctx)
	assert.Equal(t, before, after)
}

func TestReceiveStock_quantityOutOfRange(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()
	p := createProduct(t, svc, "Hammer", 1000, 10)
	before, _ := l.Len(ctx)

	_, _, err := svc.ReceiveStock(ctx, p.ID, math.MaxInt64, alice)
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
	assert.False(t, inventory.IsUnaudited(err))

	st, err := svc.GetStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.Quantity)
	after, _ := l.Len(ctx)
	assert.Equal(t, before, after)
}

func TestRecordPayment_largeAmountSettlesBalance(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := createProduct(t, svc, "Hammer", 1000, 5)
	sale, _, err := svc.Checkout(ctx, inventory.CheckoutInput{
		Items:      []inventory.CheckoutLine{{ProductID: p.ID, Quantity: 1}},
		AmountPaid: 400,
	}, alice)
	require.NoError(t, err)

	sale, _, err = svc.RecordPayment(ctx, sale.ID, math.MaxInt64, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sale.AmountPaid)
	assert.Zero(t, sale.Balance())
}

func TestRecordPayment_cappedAtTotal(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := createProduct(t, svc, "Hammer", 1000, 5)
	sale, _, err := svc.Checkout(ctx, inventory.CheckoutInput{Items: []inventory.CheckoutLine{{ProductID: p.ID, Quantity: 1}}}, alice)
	require.NoError(t, err)

	sale, e, err := svc.RecordPayment(ctx, sale.ID, 600, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(600), sale.AmountPaid)
	assert.EqualValues(t, 600, payloadOf(t, e)["amountPaid"])

	sale, _, err = svc.RecordPayment(ctx, sale.ID, 600, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sale.AmountPaid)
	assert.Zero(t, sale.Balance())

	_, _, err = svc.RecordPayment(ctx, uuid.New(), 1, bob)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	_, _, err = svc.RecordPayment(ctx, sale.ID, 0, bob)
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
}

func TestStockRequest_lifecycle(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()
	p := createProduct(t, svc, "Hammer", 1000, 2)

	sr, e, err := svc.RequestStock(ctx, p.ID, 10, alice)
	require.NoError(t, err)
	assert.Equal(t, inventory.StockRequestPending, sr.Status)
	assert.Equal(t, ledger.ActionCreate, e.Action)

	st, _ := svc.GetStock(ctx, p.ID)
	assert.Equal(t, int64(2), st.Quantity, "pending request must not change stock")

	_, _, err = svc.VerifyStockRequest(ctx, sr.ID, alice)
	assert.ErrorIs(t, err, inventory.ErrInvalidInput, "requester cannot verify")

	sr, e, err = svc.VerifyStockRequest(ctx, sr.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, inventory.StockRequestVerified, sr.Status)
	assert.Equal(t, bob, sr.VerifiedBy)
	assert.NotNil(t, sr.VerifiedAt)
	assert.Equal(t, ledger.ActionVerify, e.Action)
	assert.Equal(t, bob, e.SignerID)

	st, _ = svc.GetStock(ctx, p.ID)
	assert.Equal(t, int64(12), st.Quantity)

	_, _, err = svc.VerifyStockRequest(ctx, sr.ID, bob)
	assert.ErrorIs(t, err, inventory.ErrDuplicate)

	pending, err := svc.ListStockRequests(ctx, inventory.StockRequestPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, err = svc.ListStockRequests(ctx, "rejected")
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)

	res, _ := l.VerifyAll(ctx)
	assert.True(t, res.Valid)
}

type downLedger struct{}

func (downLedger) Append(context.Context, ledger.Action, any, string) (*ledger.Entry, error) {
	return nil, &ledger.PersistenceError{Op: "append", Err: errors.New("connection refused")}
}

func TestService_ledgerFailureIsReturned(t *testing.T) {
	svc := inventory.NewService(inventory.NewMemoryRepository(), downLedger{}, zap.NewNop())

	p, e, err := svc.CreateProduct(context.Background(), inventory.ProductInput{Name: "Hammer"}, alice)
	assert.ErrorIs(t, err, ledger.ErrPersistence)
	assert.Nil(t, e)
	require.NotNil(t, p, "the stored product is still returned for reconciliation")

	var ue *inventory.UnauditedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, p.ID, ue.ObjectID)
	assert.Equal(t, ledger.ActionCreate, ue.Action)
	assert.True(t, inventory.IsUnaudited(err))
}

func TestService_validationFailureIsNotUnaudited(t *testing.T) {
	svc := inventory.NewService(inventory.NewMemoryRepository(), downLedger{}, zap.NewNop())

	_, _, err := svc.CreateProduct(context.Background(), inventory.ProductInput{Name: " "}, alice)
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
	assert.False(t, inventory.IsUnaudited(err))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, inventory.IsClientError(inventory.ErrInsufficientStock))
	assert.True(t, inventory.IsClientError(inventory.ErrNotFound))
	assert.False(t, inventory.IsClientError(ledger.ErrPersistence))
}
