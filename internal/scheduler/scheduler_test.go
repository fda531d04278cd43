package scheduler_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linemk/media-store/internal/domain/models"
	"github.com/linemk/media-store/internal/scheduler"
	"github.com/linemk/media-store/internal/storage"
)

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[int64]*models.Order
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[int64]*models.Order)}
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (f *fakeOrderRepo) CreateOrderTx(ctx context.Context, tx *sql.Tx, cartID int64) (int64, error) {
	return 0, nil
}

func (f *fakeOrderRepo) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	return f.GetOrderByID(ctx, id)
}

func (f *fakeOrderRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus) error {
	return nil
}

func (f *fakeOrderRepo) SetDecisionTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, acceptDate time.Time) error {
	return nil
}

func (f *fakeOrderRepo) UpdateAmounts(ctx context.Context, id int64, subtotal, deliveryFee int64) error {
	return nil
}

func (f *fakeOrderRepo) DeleteOrderTx(ctx context.Context, tx *sql.Tx, id int64) (int64, error) {
	return 0, nil
}

// fakeRemover сообщает в канал об удалении заказа.
type fakeRemover struct {
	removed chan int64
}

func newFakeRemover() *fakeRemover {
	return &fakeRemover{removed: make(chan int64, 1)}
}

func (f *fakeRemover) Remove(ctx context.Context, orderID int64) error {
	f.removed <- orderID
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestScheduler_ExpiresUnpaidOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}

	s := scheduler.New(testLogger(), repo, 20*time.Millisecond)
	remover := newFakeRemover()
	s.Bind(remover)
	defer s.Shutdown()

	s.Arm(4)

	select {
	case id := <-remover.removed:
		assert.Equal(t, int64(4), id)
	case <-time.After(time.Second):
		t.Fatal("expiry did not fire")
	}
}

func TestScheduler_DisarmStopsTimer(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}

	s := scheduler.New(testLogger(), repo, 20*time.Millisecond)
	remover := newFakeRemover()
	s.Bind(remover)
	defer s.Shutdown()

	s.Arm(4)
	s.Disarm(4)

	select {
	case <-remover.removed:
		t.Fatal("disarmed timer must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_ExpiryIsNoopAfterPaymentStarted(t *testing.T) {
	repo := newFakeOrderRepo()
	// заказ уже оплачен — снятие не должно произойти
	repo.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPending}

	s := scheduler.New(testLogger(), repo, 20*time.Millisecond)
	remover := newFakeRemover()
	s.Bind(remover)
	defer s.Shutdown()

	s.Arm(4)

	select {
	case <-remover.removed:
		t.Fatal("paid order must not be removed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_ExpiryIsNoopWhenOrderGone(t *testing.T) {
	repo := newFakeOrderRepo()

	s := scheduler.New(testLogger(), repo, 20*time.Millisecond)
	remover := newFakeRemover()
	s.Bind(remover)
	defer s.Shutdown()

	// заказа нет в хранилище — таймер гаснет без удаления
	s.Arm(99)

	select {
	case <-remover.removed:
		t.Fatal("missing order must not trigger removal")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_RearmResetsTimer(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[4] = &models.Order{ID: 4, Status: models.OrderStatusPlacing}

	s := scheduler.New(testLogger(), repo, 60*time.Millisecond)
	remover := newFakeRemover()
	s.Bind(remover)
	defer s.Shutdown()

	s.Arm(4)
	time.Sleep(40 * time.Millisecond)
	// перевзвод сдвигает дедлайн
	s.Arm(4)
	time.Sleep(40 * time.Millisecond)

	select {
	case <-remover.removed:
		t.Fatal("rearmed timer fired too early")
	default:
	}

	select {
	case id := <-remover.removed:
		assert.Equal(t, int64(4), id)
	case <-time.After(time.Second):
		t.Fatal("rearmed timer did not fire")
	}
}
