package service_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/linemk/media-store/internal/domain/models"
	"github.com/linemk/media-store/internal/payment/gateway"
	"github.com/linemk/media-store/internal/service"
	"github.com/linemk/media-store/internal/service/fee"
	"github.com/linemk/media-store/internal/storage"
)

type fakeCartRepo struct {
	carts map[int64]*models.Cart       // ключ — id корзины
	items map[int64][]*models.CartItem // ключ — id корзины
}

var _ storage.CartStorage = (*fakeCartRepo)(nil)

func newFakeCartRepo() *fakeCartRepo {
	return &fakeCartRepo{
		carts: make(map[int64]*models.Cart),
		items: make(map[int64][]*models.CartItem),
	}
}

func (f *fakeCartRepo) GetCartByID(ctx context.Context, id int64) (*models.Cart, error) {
	cart, ok := f.carts[id]
	if !ok {
		return nil, storage.ErrCartNotFound
	}
	return cart, nil
}

func (f *fakeCartRepo) GetCartItems(ctx context.Context, cartID int64) ([]*models.CartItem, error) {
	return f.items[cartID], nil
}

type fakeProductRepo struct {
	products map[int64]*models.Product
}

var _ storage.ProductStorage = (*fakeProductRepo)(nil)

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{products: make(map[int64]*models.Product)}
}

func (f *fakeProductRepo) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	product, ok := f.products[id]
	if !ok {
		return nil, storage.ErrProductNotFound
	}
	return product, nil
}

func (f *fakeProductRepo) LockProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	return f.GetProductByID(ctx, id)
}

func (f *fakeProductRepo) UpdateStockTx(ctx context.Context, tx *sql.Tx, id int64, newStock int) error {
	product, ok := f.products[id]
	if !ok {
		return storage.ErrProductNotFound
	}
	product.Stock = newStock
	return nil
}

type fakeOrderRepo struct {
	orders map[int64]*models.Order
	nextID int64
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[int64]*models.Order), nextID: 1}
}

func (f *fakeOrderRepo) CreateOrderTx(ctx context.Context, tx *sql.Tx, cartID int64) (int64, error) {
	id := f.nextID
	f.nextID++
	f.orders[id] = &models.Order{
		ID:        id,
		CartID:    cartID,
		Status:    models.OrderStatusPlacing,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (f *fakeOrderRepo) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	return f.GetOrderByID(ctx, id)
}

func (f *fakeOrderRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus) error {
	order, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	order.Status = status
	return nil
}

func (f *fakeOrderRepo) SetDecisionTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, acceptDate time.Time) error {
	order, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	order.Status = status
	order.AcceptDate = &acceptDate
	return nil
}

func (f *fakeOrderRepo) UpdateAmounts(ctx context.Context, id int64, subtotal, deliveryFee int64) error {
	order, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	order.Subtotal = subtotal
	order.DeliveryFee = deliveryFee
	return nil
}

func (f *fakeOrderRepo) DeleteOrderTx(ctx context.Context, tx *sql.Tx, id int64) (int64, error) {
	if _, ok := f.orders[id]; !ok {
		return 0, nil
	}
	delete(f.orders, id)
	return 1, nil
}

type fakeLineItemRepo struct {
	items    map[int64][]*models.OrderLineItem // ключ — id заказа
	products *fakeProductRepo                  // для выдачи позиций вместе с товаром
	nextID   int64
}

var _ storage.LineItemStorage = (*fakeLineItemRepo)(nil)

func newFakeLineItemRepo(products *fakeProductRepo) *fakeLineItemRepo {
	return &fakeLineItemRepo{
		items:    make(map[int64][]*models.OrderLineItem),
		products: products,
		nextID:   1,
	}
}

func (f *fakeLineItemRepo) CreateLineItemsTx(ctx context.Context, tx *sql.Tx, items []*models.OrderLineItem) error {
	for _, item := range items {
		item.ID = f.nextID
		f.nextID++
		f.items[item.OrderID] = append(f.items[item.OrderID], item)
	}
	return nil
}

func (f *fakeLineItemRepo) GetLineItemsTx(ctx context.Context, tx *sql.Tx, orderID int64) ([]*models.OrderLineItem, error) {
	return f.items[orderID], nil
}

func (f *fakeLineItemRepo) FindLineItemsWithProduct(ctx context.Context, orderID int64) ([]*models.LineItemWithProduct, error) {
	var result []*models.LineItemWithProduct
	for _, item := range f.items[orderID] {
		product := f.products.products[item.ProductID]
		result = append(result, &models.LineItemWithProduct{
			OrderLineItem: *item,
			Product:       *product,
		})
	}
	return result, nil
}

func (f *fakeLineItemRepo) SetRushFlags(ctx context.Context, orderID int64, productIDs []int64) (int64, error) {
	var affected int64
	for _, item := range f.items[orderID] {
		for _, id := range productIDs {
			if item.ProductID == id && !item.IsRush {
				item.IsRush = true
				affected++
			}
		}
	}
	return affected, nil
}

func (f *fakeLineItemRepo) DeleteByOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) error {
	delete(f.items, orderID)
	return nil
}

type fakeDeliveryRepo struct {
	infos  map[int64]*models.DeliveryInfo // ключ — id заказа
	nextID int64
}

var _ storage.DeliveryStorage = (*fakeDeliveryRepo)(nil)

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{infos: make(map[int64]*models.DeliveryInfo), nextID: 1}
}

func (f *fakeDeliveryRepo) CreateDeliveryInfo(ctx context.Context, info *models.DeliveryInfo) (*models.DeliveryInfo, error) {
	info.ID = f.nextID
	f.nextID++
	f.infos[info.OrderID] = info
	return info, nil
}

func (f *fakeDeliveryRepo) GetByOrderID(ctx context.Context, orderID int64) (*models.DeliveryInfo, error) {
	info, ok := f.infos[orderID]
	if !ok {
		return nil, storage.ErrDeliveryInfoNotFound
	}
	return info, nil
}

func (f *fakeDeliveryRepo) DeleteByOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) error {
	delete(f.infos, orderID)
	return nil
}

type fakePaymentRepo struct {
	txns   map[int64]*models.PaymentTransaction // ключ — id заказа (последняя транзакция)
	nextID int64
}

var _ storage.PaymentStorage = (*fakePaymentRepo)(nil)

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{txns: make(map[int64]*models.PaymentTransaction), nextID: 1}
}

func (f *fakePaymentRepo) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) (*models.PaymentTransaction, error) {
	if existing, ok := f.txns[txn.OrderID]; ok && existing.Status == models.PaymentStatusPending {
		return nil, storage.ErrDuplicatePendingPayment
	}
	txn.ID = f.nextID
	f.nextID++
	txn.CreatedAt = time.Now()
	f.txns[txn.OrderID] = txn
	return txn, nil
}

func (f *fakePaymentRepo) HasPendingByOrderID(ctx context.Context, orderID int64) (bool, error) {
	txn, ok := f.txns[orderID]
	return ok && txn.Status == models.PaymentStatusPending, nil
}

func (f *fakePaymentRepo) LockByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID int64) (*models.PaymentTransaction, error) {
	txn, ok := f.txns[orderID]
	if !ok {
		return nil, storage.ErrTransactionNotFound
	}
	return txn, nil
}

func (f *fakePaymentRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.PaymentStatus, counterpart, gatewayResponse string) error {
	for _, txn := range f.txns {
		if txn.ID == id {
			txn.Status = status
			txn.Counterpart = counterpart
			txn.GatewayResponse = gatewayResponse
			return nil
		}
	}
	return storage.ErrTransactionNotFound
}

func (f *fakePaymentRepo) DeleteByOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) error {
	delete(f.txns, orderID)
	return nil
}

// fakeScheduler фиксирует взводы и снятия таймеров.
type fakeScheduler struct {
	armed    []int64
	disarmed []int64
}

func (f *fakeScheduler) Arm(orderID int64)    { f.armed = append(f.armed, orderID) }
func (f *fakeScheduler) Disarm(orderID int64) { f.disarmed = append(f.disarmed, orderID) }

// fakeNotifier сигналит в каналы, уведомления уходят из горутин.
type fakeNotifier struct {
	confirmed chan int64
	cancelled chan int64
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		confirmed: make(chan int64, 1),
		cancelled: make(chan int64, 1),
	}
}

func (f *fakeNotifier) OrderConfirmed(ctx context.Context, order *models.Order, txn *models.PaymentTransaction) error {
	f.confirmed <- order.ID
	return nil
}

func (f *fakeNotifier) OrderCancelled(ctx context.Context, order *models.Order) error {
	f.cancelled <- order.ID
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type serviceEnv struct {
	db        *sql.DB
	mock      sqlmock.Sqlmock
	carts     *fakeCartRepo
	products  *fakeProductRepo
	orders    *fakeOrderRepo
	lineItems *fakeLineItemRepo
	delivery  *fakeDeliveryRepo
	payments  *fakePaymentRepo
	notifier  *fakeNotifier
	scheduler *fakeScheduler
}

func newServiceEnv(t *testing.T) *serviceEnv {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	products := newFakeProductRepo()
	return &serviceEnv{
		db:        db,
		mock:      mock,
		carts:     newFakeCartRepo(),
		products:  products,
		orders:    newFakeOrderRepo(),
		lineItems: newFakeLineItemRepo(products),
		delivery:  newFakeDeliveryRepo(),
		payments:  newFakePaymentRepo(),
		notifier:  newFakeNotifier(),
		scheduler: &fakeScheduler{},
	}
}

func (e *serviceEnv) orderService() service.OrderService {
	return service.NewOrderService(testLogger(), e.db,
		e.carts, e.products, e.orders, e.lineItems, e.delivery, e.payments,
		e.notifier, e.scheduler)
}

func TestOrderService_Create_Success(t *testing.T) {
	env := newServiceEnv(t)
	env.carts.carts[3] = &models.Cart{ID: 3, UserID: 42}
	env.carts.items[3] = []*models.CartItem{
		{CartID: 3, ProductID: 11, Quantity: 2},
		{CartID: 3, ProductID: 12, Quantity: 1},
	}
	env.products.products[11] = &models.Product{ID: 11, Title: "CD Album", Price: 45000, Stock: 10, RushEligible: true}
	env.products.products[12] = &models.Product{ID: 12, Title: "Boxset", Price: 320000, Stock: 3}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := env.orderService()
	result, err := svc.Create(context.Background(), 3, nil)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPlacing, result.Order.Status)
	assert.Len(t, result.Items, 2)
	assert.True(t, result.RushEligible)
	// таймер снятия неоплаченного заказа взведён
	assert.Equal(t, []int64{result.Order.ID}, env.scheduler.armed)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_Create_SelectedProductsOnly(t *testing.T) {
	env := newServiceEnv(t)
	env.carts.carts[3] = &models.Cart{ID: 3, UserID: 42}
	env.carts.items[3] = []*models.CartItem{
		{CartID: 3, ProductID: 11, Quantity: 2},
		{CartID: 3, ProductID: 12, Quantity: 1},
	}
	env.products.products[11] = &models.Product{ID: 11, Title: "CD Album", Price: 45000, Stock: 10}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := env.orderService()
	result, err := svc.Create(context.Background(), 3, []int64{11})
	assert.NoError(t, err)
	assert.Len(t, result.Items, 1)
	assert.Equal(t, int64(11), result.Items[0].ProductID)
}

func TestOrderService_Create_NoMatchingCartItems(t *testing.T) {
	env := newServiceEnv(t)
	env.carts.carts[3] = &models.Cart{ID: 3, UserID: 42}
	env.carts.items[3] = []*models.CartItem{{CartID: 3, ProductID: 11, Quantity: 2}}

	svc := env.orderService()
	_, err := svc.Create(context.Background(), 3, []int64{99})
	assert.ErrorIs(t, err, service.ErrCartEmpty)
}

func TestOrderService_Create_InsufficientStock(t *testing.T) {
	env := newServiceEnv(t)
	env.carts.carts[3] = &models.Cart{ID: 3, UserID: 42}
	env.carts.items[3] = []*models.CartItem{{CartID: 3, ProductID: 11, Quantity: 5}}
	env.products.products[11] = &models.Product{ID: 11, Title: "CD Album", Price: 45000, Stock: 2}

	// нехватка — заказ и позиции откатываются целиком
	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	svc := env.orderService()
	_, err := svc.Create(context.Background(), 3, nil)

	stockErr, ok := service.AsInsufficientStock(err)
	assert.True(t, ok, "Expected InsufficientStockError")
	assert.Len(t, stockErr.Shortfalls, 1)
	assert.Equal(t, int64(11), stockErr.Shortfalls[0].ProductID)
	assert.Equal(t, 5, stockErr.Shortfalls[0].Requested)
	assert.Equal(t, 2, stockErr.Shortfalls[0].Available)
	// таймер не взводится
	assert.Empty(t, env.scheduler.armed)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_CheckStock(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.products.products[11] = &models.Product{ID: 11, Title: "CD Album", Stock: 1}
	env.lineItems.items[4] = []*models.OrderLineItem{{ID: 1, OrderID: 4, ProductID: 11, Quantity: 3}}

	svc := env.orderService()
	err := svc.CheckStock(context.Background(), 4)

	stockErr, ok := service.AsInsufficientStock(err)
	assert.True(t, ok)
	assert.Equal(t, 3, stockErr.Shortfalls[0].Requested)

	// остатки пополнились — проверка проходит
	env.products.products[11].Stock = 5
	assert.NoError(t, svc.CheckStock(context.Background(), 4))
}

func TestOrderService_Approve_DecrementsStock(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPending}
	env.products.products[11] = &models.Product{ID: 11, Title: "CD Album", Stock: 10}
	env.products.products[12] = &models.Product{ID: 12, Title: "Boxset", Stock: 3}
	env.lineItems.items[4] = []*models.OrderLineItem{
		{ID: 1, OrderID: 4, ProductID: 11, Quantity: 2},
		{ID: 2, OrderID: 4, ProductID: 12, Quantity: 1},
	}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := env.orderService()
	assert.NoError(t, svc.ApproveOrReject(context.Background(), 4, true))

	assert.Equal(t, models.OrderStatusAccepted, env.orders.orders[4].Status)
	assert.NotNil(t, env.orders.orders[4].AcceptDate)
	assert.Equal(t, 8, env.products.products[11].Stock)
	assert.Equal(t, 2, env.products.products[12].Stock)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_Approve_ShortfallIsAllOrNothing(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPending}
	env.products.products[11] = &models.Product{ID: 11, Title: "CD Album", Stock: 10}
	env.products.products[12] = &models.Product{ID: 12, Title: "Boxset", Stock: 0}
	env.lineItems.items[4] = []*models.OrderLineItem{
		{ID: 1, OrderID: 4, ProductID: 11, Quantity: 2},
		{ID: 2, OrderID: 4, ProductID: 12, Quantity: 1},
	}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	svc := env.orderService()
	err := svc.ApproveOrReject(context.Background(), 4, true)

	stockErr, ok := service.AsInsufficientStock(err)
	assert.True(t, ok)
	assert.Len(t, stockErr.Shortfalls, 1)
	// ни одна позиция не списана
	assert.Equal(t, 10, env.products.products[11].Stock)
	assert.Equal(t, models.OrderStatusPending, env.orders.orders[4].Status)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_Reject(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPending}
	env.products.products[11] = &models.Product{ID: 11, Stock: 1}
	env.lineItems.items[4] = []*models.OrderLineItem{{ID: 1, OrderID: 4, ProductID: 11, Quantity: 5}}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := env.orderService()
	// отклонение не трогает остатки, нехватка не мешает
	assert.NoError(t, svc.ApproveOrReject(context.Background(), 4, false))
	assert.Equal(t, models.OrderStatusRejected, env.orders.orders[4].Status)
	assert.Equal(t, 1, env.products.products[11].Stock)
}

func TestOrderService_Decision_RequiresPending(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	svc := env.orderService()
	err := svc.ApproveOrReject(context.Background(), 4, true)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestOrderService_Cancel_Owner(t *testing.T) {
	env := newServiceEnv(t)
	env.carts.carts[3] = &models.Cart{ID: 3, UserID: 42}
	env.orders.orders[4] = &models.Order{ID: 4, CartID: 3, Status: models.OrderStatusPlacing}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := env.orderService()
	assert.NoError(t, svc.Cancel(context.Background(), 4, 42))
	assert.Equal(t, models.OrderStatusCancelledByUser, env.orders.orders[4].Status)
	assert.Equal(t, []int64{4}, env.scheduler.disarmed)

	// неоплаченный заказ — уведомление об отмене не уходит
	select {
	case <-env.notifier.cancelled:
		t.Fatal("unexpected cancellation notification")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOrderService_Cancel_PaidOrderNotifies(t *testing.T) {
	env := newServiceEnv(t)
	env.carts.carts[3] = &models.Cart{ID: 3, UserID: 42}
	env.orders.orders[4] = &models.Order{ID: 4, CartID: 3, Status: models.OrderStatusPending}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := env.orderService()
	assert.NoError(t, svc.Cancel(context.Background(), 4, 42))

	select {
	case id := <-env.notifier.cancelled:
		assert.Equal(t, int64(4), id)
	case <-time.After(time.Second):
		t.Fatal("cancellation notification was not sent")
	}
}

func TestOrderService_Cancel_NotOwner(t *testing.T) {
	env := newServiceEnv(t)
	env.carts.carts[3] = &models.Cart{ID: 3, UserID: 42}
	env.orders.orders[4] = &models.Order{ID: 4, CartID: 3, Status: models.OrderStatusPlacing}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	svc := env.orderService()
	err := svc.Cancel(context.Background(), 4, 7)
	assert.ErrorIs(t, err, service.ErrNotOrderOwner)
	assert.Equal(t, models.OrderStatusPlacing, env.orders.orders[4].Status)
}

func TestOrderService_Cancel_AfterDecision(t *testing.T) {
	env := newServiceEnv(t)
	env.carts.carts[3] = &models.Cart{ID: 3, UserID: 42}
	env.orders.orders[4] = &models.Order{ID: 4, CartID: 3, Status: models.OrderStatusAccepted}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	svc := env.orderService()
	err := svc.Cancel(context.Background(), 4, 42)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestOrderService_Remove_Idempotent(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.lineItems.items[4] = []*models.OrderLineItem{{ID: 1, OrderID: 4, ProductID: 11, Quantity: 1}}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()
	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := env.orderService()
	assert.NoError(t, svc.Remove(context.Background(), 4))
	assert.Empty(t, env.orders.orders)
	assert.Empty(t, env.lineItems.items)

	// повторное удаление — успех без эффекта
	assert.NoError(t, svc.Remove(context.Background(), 4))
	assert.Equal(t, []int64{4, 4}, env.scheduler.disarmed)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_Remove_RefusesPaidOrder(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[7] = &models.Order{ID: 7, Status: models.OrderStatusAccepted}
	env.payments.txns[7] = &models.PaymentTransaction{ID: 1, OrderID: 7, Status: models.PaymentStatusSuccess}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	svc := env.orderService()
	err := svc.Remove(context.Background(), 7)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	// оплаченный заказ и его транзакции остаются на месте
	assert.Contains(t, env.orders.orders, int64(7))
	assert.Contains(t, env.payments.txns, int64(7))
	assert.Empty(t, env.scheduler.disarmed)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func reconcileService(env *serviceEnv) service.ReconcileService {
	return service.NewReconcileService(testLogger(), env.db,
		env.orders, env.payments, env.notifier, env.scheduler)
}

func TestReconcileService_Success_AdvancesOrder(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.payments.txns[4] = &models.PaymentTransaction{ID: 1, OrderID: 4, Status: models.PaymentStatusPending}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := reconcileService(env)
	assert.NoError(t, svc.UpdateStatus(context.Background(), 4, models.PaymentStatusSuccess, "VCB", `{"code":"00"}`))

	assert.Equal(t, models.OrderStatusPending, env.orders.orders[4].Status)
	assert.Equal(t, models.PaymentStatusSuccess, env.payments.txns[4].Status)
	assert.Equal(t, "VCB", env.payments.txns[4].Counterpart)
	assert.Equal(t, `{"code":"00"}`, env.payments.txns[4].GatewayResponse)
	assert.Equal(t, []int64{4}, env.scheduler.disarmed)

	select {
	case id := <-env.notifier.confirmed:
		assert.Equal(t, int64(4), id)
	case <-time.After(time.Second):
		t.Fatal("confirmation notification was not sent")
	}

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestReconcileService_DuplicateSuccess_Idempotent(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.payments.txns[4] = &models.PaymentTransaction{ID: 1, OrderID: 4, Status: models.PaymentStatusPending}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()
	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := reconcileService(env)
	assert.NoError(t, svc.UpdateStatus(context.Background(), 4, models.PaymentStatusSuccess, "", "first"))
	<-env.notifier.confirmed

	// повторный callback провайдера не двигает заказ дальше PENDING
	assert.NoError(t, svc.UpdateStatus(context.Background(), 4, models.PaymentStatusSuccess, "", "second"))
	assert.Equal(t, models.OrderStatusPending, env.orders.orders[4].Status)
	assert.Equal(t, "second", env.payments.txns[4].GatewayResponse)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestReconcileService_Failure_DoesNotAdvance(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.payments.txns[4] = &models.PaymentTransaction{ID: 1, OrderID: 4, Status: models.PaymentStatusPending}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	svc := reconcileService(env)
	assert.NoError(t, svc.UpdateStatus(context.Background(), 4, models.PaymentStatusFailed, "", "declined"))

	assert.Equal(t, models.OrderStatusPlacing, env.orders.orders[4].Status)
	assert.Equal(t, models.PaymentStatusFailed, env.payments.txns[4].Status)
	// таймер снятия остаётся взведённым
	assert.Empty(t, env.scheduler.disarmed)
}

func TestReconcileService_UnknownTransaction(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	svc := reconcileService(env)
	err := svc.UpdateStatus(context.Background(), 4, models.PaymentStatusSuccess, "", "")
	assert.ErrorIs(t, err, storage.ErrTransactionNotFound)
}

func deliveryService(env *serviceEnv) service.DeliveryService {
	return service.NewDeliveryService(testLogger(), env.orders, env.lineItems, env.delivery, fee.NewDefaultEngine())
}

func TestDeliveryService_Standard_CalculatesAmounts(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.products.products[11] = &models.Product{ID: 11, Title: "CD Album", Price: 45000, Weight: 1.0, Dimensions: "14x12x1 cm", Stock: 10}
	env.lineItems.items[4] = []*models.OrderLineItem{{ID: 1, OrderID: 4, ProductID: 11, Quantity: 2}}

	svc := deliveryService(env)
	result, err := svc.CreateDelivery(context.Background(), 4, &models.DeliveryInfo{
		RecipientName: "Nguyen Van A",
		Phone:         "0901234567",
		ProvinceCode:  "HN",
		Address:       "1 Trang Tien",
	}, nil, "")
	assert.NoError(t, err)

	// 2 кг в метро-регионе укладываются в базовую ставку
	assert.Equal(t, int64(22000), result.Fee.FinalFee)
	// 90000 + 10% НДС
	assert.Equal(t, int64(99000), env.orders.orders[4].Subtotal)
	assert.Equal(t, int64(22000), env.orders.orders[4].DeliveryFee)
	assert.NotNil(t, env.delivery.infos[4])
	assert.Equal(t, int64(0), result.RushedItems)
}

func TestDeliveryService_Rush_MarksMatchingItems(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.products.products[11] = &models.Product{ID: 11, Price: 45000, Weight: 0.5, Dimensions: "14x12x1 cm", RushEligible: true}
	env.products.products[12] = &models.Product{ID: 12, Price: 320000, Weight: 1.0, Dimensions: "30x20x15 cm"}
	env.lineItems.items[4] = []*models.OrderLineItem{
		{ID: 1, OrderID: 4, ProductID: 11, Quantity: 1},
		{ID: 2, OrderID: 4, ProductID: 12, Quantity: 1},
	}

	instruction := "call before arrival"
	at := time.Now().Add(3 * time.Hour)

	svc := deliveryService(env)
	result, err := svc.CreateDelivery(context.Background(), 4, &models.DeliveryInfo{
		RecipientName:    "Nguyen Van A",
		Phone:            "0901234567",
		ProvinceCode:     "HN",
		Address:          "1 Trang Tien",
		RushInstruction:  &instruction,
		RushDeliveryTime: &at,
	}, []int64{11, 99}, "")
	assert.NoError(t, err)

	// помечена только позиция, реально присутствующая в заказе
	assert.Equal(t, int64(1), result.RushedItems)
	assert.True(t, env.lineItems.items[4][0].IsRush)
	assert.False(t, env.lineItems.items[4][1].IsRush)
}

func TestDeliveryService_Rush_WrongProvince(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}

	instruction := "leave at door"
	at := time.Now().Add(2 * time.Hour)

	svc := deliveryService(env)
	_, err := svc.CreateDelivery(context.Background(), 4, &models.DeliveryInfo{
		RecipientName:    "Tran B",
		Phone:            "0911234567",
		ProvinceCode:     "SGN",
		Address:          "12 Le Loi",
		RushInstruction:  &instruction,
		RushDeliveryTime: &at,
	}, []int64{11}, "")
	assert.ErrorIs(t, err, service.ErrProvinceNotServiceable)
	// отклонённый запрос не оставляет следов
	assert.Empty(t, env.delivery.infos)
}

func TestDeliveryService_Rush_IncompleteInfo(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}

	instruction := "leave at door"

	svc := deliveryService(env)
	_, err := svc.CreateDelivery(context.Background(), 4, &models.DeliveryInfo{
		RecipientName:   "Tran B",
		Phone:           "0911234567",
		ProvinceCode:    "HN",
		Address:         "12 Le Loi",
		RushInstruction: &instruction, // времени доставки нет
	}, nil, "")
	assert.ErrorIs(t, err, service.ErrRushInfoInvalid)
}

func TestDeliveryService_Rush_NoMatchingItems(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.products.products[11] = &models.Product{ID: 11, Price: 45000, Weight: 0.5, Dimensions: "14x12x1 cm"}
	env.lineItems.items[4] = []*models.OrderLineItem{{ID: 1, OrderID: 4, ProductID: 11, Quantity: 1}}

	instruction := "call before arrival"
	at := time.Now().Add(3 * time.Hour)

	svc := deliveryService(env)
	_, err := svc.CreateDelivery(context.Background(), 4, &models.DeliveryInfo{
		RecipientName:    "Nguyen Van A",
		Phone:            "0901234567",
		ProvinceCode:     "HN",
		Address:          "1 Trang Tien",
		RushInstruction:  &instruction,
		RushDeliveryTime: &at,
	}, []int64{99}, "")
	assert.ErrorIs(t, err, service.ErrNoMatchingLineItems)
	assert.Empty(t, env.delivery.infos)
}

func TestDeliveryService_RequiresPlacing(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPending}

	svc := deliveryService(env)
	_, err := svc.CreateDelivery(context.Background(), 4, &models.DeliveryInfo{
		RecipientName: "Tran B",
		Phone:         "0911234567",
		ProvinceCode:  "HN",
		Address:       "12 Le Loi",
	}, nil, "")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

// fakeGateway отдаёт заранее заданный URL либо ошибку.
type fakeGateway struct {
	name string
	url  *gateway.PaymentURL
	err  error

	gotOrder *models.Order
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) MethodName() string { return f.name }

func (f *fakeGateway) ProcessPayment(ctx context.Context, clientIP string, order *models.Order, data gateway.PaymentData) (*gateway.PaymentURL, error) {
	f.gotOrder = order
	return f.url, f.err
}

func TestPaymentService_CreatePaymentURL_Success(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing, Subtotal: 99000, DeliveryFee: 22000}

	gw := &fakeGateway{name: "PAYHUB", url: &gateway.PaymentURL{
		URL:          "https://pay.example/approve/abc",
		ResponseType: gateway.ResponseRedirect,
	}}
	svc := service.NewPaymentService(testLogger(), env.orders, env.payments, gateway.NewRegistry(gw))

	url, err := svc.CreatePaymentURL(context.Background(), 4, "PAYHUB", "order payment", "10.0.0.1")
	assert.NoError(t, err)
	assert.Equal(t, "https://pay.example/approve/abc", url.URL)
	assert.Equal(t, int64(4), gw.gotOrder.ID)

	// PENDING-транзакция зафиксирована до похода к шлюзу
	txn := env.payments.txns[4]
	assert.NotNil(t, txn)
	assert.Equal(t, models.PaymentStatusPending, txn.Status)
	assert.Equal(t, "PAYHUB", txn.Method)
	assert.NotEmpty(t, txn.TxnRef)
}

func TestPaymentService_CreatePaymentURL_DuplicatePending(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.payments.txns[4] = &models.PaymentTransaction{ID: 1, OrderID: 4, Status: models.PaymentStatusPending}

	gw := &fakeGateway{name: "PAYHUB"}
	svc := service.NewPaymentService(testLogger(), env.orders, env.payments, gateway.NewRegistry(gw))

	_, err := svc.CreatePaymentURL(context.Background(), 4, "PAYHUB", "", "10.0.0.1")
	assert.ErrorIs(t, err, storage.ErrDuplicatePendingPayment)
	// шлюз не вызывался
	assert.Nil(t, gw.gotOrder)
}

func TestPaymentService_GatewayFailureKeepsPendingTxn(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}

	gwErr := &gateway.Error{Gateway: "PAYHUB", Raw: "boom"}
	gw := &fakeGateway{name: "PAYHUB", err: gwErr}
	svc := service.NewPaymentService(testLogger(), env.orders, env.payments, gateway.NewRegistry(gw))

	_, err := svc.CreatePaymentURL(context.Background(), 4, "", "", "10.0.0.1")
	assert.Error(t, err)

	var asGwErr *gateway.Error
	assert.ErrorAs(t, err, &asGwErr)
	// транзакция остаётся в PENDING для ручной реконсилиации
	assert.Equal(t, models.PaymentStatusPending, env.payments.txns[4].Status)
}

func TestDeliveryService_UnknownStrategy(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}
	env.products.products[11] = &models.Product{ID: 11, Price: 45000, Weight: 0.5, Dimensions: "14x12x1 cm"}
	env.lineItems.items[4] = []*models.OrderLineItem{{ID: 1, OrderID: 4, ProductID: 11, Quantity: 1}}

	svc := deliveryService(env)
	_, err := svc.CreateDelivery(context.Background(), 4, &models.DeliveryInfo{
		RecipientName: "Tran B",
		Phone:         "0911234567",
		ProvinceCode:  "HN",
		Address:       "12 Le Loi",
	}, nil, "by-phase-of-moon")
	assert.ErrorIs(t, err, fee.ErrUnknownStrategy)
}
