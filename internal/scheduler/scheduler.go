// Package scheduler — одноразовые таймеры снятия неоплаченных заказов.
// Реестр живёт в памяти процесса: после рестарта таймеры не восстанавливаются,
// это базовый контракт (страховочный периодический обход — отдельная задача).
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/linemk/media-store/internal/domain/models"
	"github.com/linemk/media-store/internal/service"
	"github.com/linemk/media-store/internal/storage"
)

// Remover — удаление заказа; реализуется сервисом заказов
type Remover interface {
	Remove(ctx context.Context, orderID int64) error
}

type Scheduler struct {
	log    *slog.Logger
	orders storage.OrderStorage
	window time.Duration

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	remover Remover
}

func New(log *slog.Logger, orders storage.OrderStorage, window time.Duration) *Scheduler {
	return &Scheduler{
		log:    log,
		orders: orders,
		window: window,
		timers: make(map[int64]*time.Timer),
	}
}

// Bind подключает удаление заказов; вызывается один раз при сборке приложения
// (сервис заказов сам зависит от планировщика, поэтому связка двухшаговая)
func (s *Scheduler) Bind(r Remover) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remover = r
}

// Arm взводит таймер снятия для нового заказа; повторный вызов перевзводит
func (s *Scheduler) Arm(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[orderID]; ok {
		t.Stop()
	}
	s.timers[orderID] = time.AfterFunc(s.window, func() {
		s.expire(orderID)
	})
	s.log.Debug("expiry timer armed", slog.Int64("orderID", orderID), slog.Duration("window", s.window))
}

// Disarm снимает таймер, когда оплата началась или заказ снят вручную
func (s *Scheduler) Disarm(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[orderID]; ok {
		t.Stop()
		delete(s.timers, orderID)
	}
}

// Shutdown останавливает все таймеры при остановке процесса
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// expire перечитывает заказ и снимает его, только если оплата так и не началась.
// Гонка с параллельным удалением безопасна: Remove идемпотентна.
func (s *Scheduler) expire(orderID int64) {
	const op = "scheduler.Scheduler.expire"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))

	s.mu.Lock()
	delete(s.timers, orderID)
	remover := s.remover
	s.mu.Unlock()
	if remover == nil {
		logger.Error("scheduler is not bound to a remover")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			logger.Debug("order already gone")
			return
		}
		logger.Error("failed to read order", slog.Any("error", err))
		return
	}
	if order.Status != models.OrderStatusPlacing {
		logger.Debug("order left placing, expiry is a no-op", slog.String("status", string(order.Status)))
		return
	}

	logger.Info("payment window elapsed, removing order")
	if err := remover.Remove(ctx, orderID); err != nil {
		// проигранная гонка с началом оплаты: Remove под блокировкой отказал,
		// заказ уже ушёл из PLACING
		if errors.Is(err, service.ErrInvalidTransition) {
			logger.Debug("order left placing before removal, expiry is a no-op")
			return
		}
		logger.Error("failed to remove expired order", slog.Any("error", err))
	}
}
