package main

import (
	"context"

	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linemk/media-store/internal/app"
	"github.com/linemk/media-store/internal/app/handlers"
	"github.com/linemk/media-store/internal/config"
	security "github.com/linemk/media-store/internal/jwt-new"
	"github.com/linemk/media-store/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/media-store/internal/lib/logger"
	"github.com/linemk/media-store/internal/lib/logger/handlers/urllog"
	"github.com/linemk/media-store/internal/notify"
	"github.com/linemk/media-store/internal/payment/gateway"
	"github.com/linemk/media-store/internal/scheduler"
	"github.com/linemk/media-store/internal/service"
	"github.com/linemk/media-store/internal/service/fee"
	"github.com/linemk/media-store/internal/storage"
	"github.com/pkg/errors"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// загружаем объект приложения, конфигом и подключением к БД
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.DB.Close()

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// реализация слоев по работе с БД по каждому направлению
	cartRepo := storage.NewCartRepository(application.DB)
	productRepo := storage.NewProductRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)
	lineItemRepo := storage.NewLineItemRepository(application.DB)
	deliveryRepo := storage.NewDeliveryRepository(application.DB)
	paymentRepo := storage.NewPaymentRepository(application.DB)

	// стратегии расчёта доставки: первая — стратегия по умолчанию
	feeEngine := fee.NewDefaultEngine()

	// платёжные шлюзы: PayHub — redirect, QRPay — QR-код с расчётом через webhook
	payhub := gateway.NewPayHub(cfg.Payment.PayHub)
	qrpay := gateway.NewQRPay(cfg.Payment.QRPay)
	gateways := gateway.NewRegistry(payhub, qrpay)

	// уведомления о событиях заказов: kafka либо заглушка с логированием
	var notifier service.Notifier
	if cfg.Kafka.Enabled {
		kafkaNotifier := notify.NewKafkaNotifier(log, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := kafkaNotifier.Close(); err != nil {
				log.Error("failed to close kafka writer", slog.Any("error", err))
			}
		}()
		notifier = kafkaNotifier
	} else {
		notifier = notify.NewNopNotifier(log)
	}

	// планировщик снятия неоплаченных заказов
	expiry := scheduler.New(log, orderRepo, cfg.Order.ExpiryWindow)

	orderService := service.NewOrderService(application.Logger, application.DB,
		cartRepo, productRepo, orderRepo, lineItemRepo, deliveryRepo, paymentRepo,
		notifier, expiry)
	deliveryService := service.NewDeliveryService(application.Logger, orderRepo, lineItemRepo, deliveryRepo, feeEngine)
	paymentService := service.NewPaymentService(application.Logger, orderRepo, paymentRepo, gateways)
	reconcileService := service.NewReconcileService(application.Logger, application.DB,
		orderRepo, paymentRepo, notifier, expiry)

	// планировщик снимает заказы через сервис заказов; связываем после создания
	expiry.Bind(orderService)
	defer expiry.Shutdown()

	// провайдерские эндпоинты: аутентификация своя (capture-токен / basic auth)
	router.Get("/api/payments/payhub/return", handlers.PayHubReturnHandler(application.Logger, payhub, reconcileService, cfg.Payment.PayHub))
	router.Post("/api/payments/qrpay/webhook", handlers.QRPayWebhookHandler(application.Logger, reconcileService, cfg.Payment.QRPay))

	router.Group(func(r chi.Router) {
		jwtMW := jwtmiddleware.NewJWTMiddleware()
		r.Use(jwtMW)
		// эндпоинт для оформления заказа из корзины
		r.Post("/api/orders", handlers.CreateOrderHandler(application.Logger, orderService))
		// эндпоинт для проверки наличия по всем позициям заказа
		r.Post("/api/orders/{orderID}/check-stock", handlers.CheckStockHandler(application.Logger, orderService))
		// эндпоинт для данных доставки и расчёта её стоимости
		r.Post("/api/orders/{orderID}/delivery", handlers.CreateDeliveryHandler(application.Logger, deliveryService))
		// эндпоинт для создания платёжной ссылки
		r.Post("/api/orders/{orderID}/payment", handlers.CreatePaymentHandler(application.Logger, paymentService))
		// эндпоинт для отмены заказа владельцем
		r.Post("/api/orders/{orderID}/cancel", handlers.CancelOrderHandler(application.Logger, orderService))
		// эндпоинт для удаления заказа со всеми связанными записями
		r.Delete("/api/orders/{orderID}", handlers.RemoveOrderHandler(application.Logger, orderService))

		// решение по заказу принимает только менеджер
		r.Group(func(mr chi.Router) {
			mr.Use(jwtmiddleware.RequireRole(security.RoleManager))
			mr.Post("/api/orders/{orderID}/decision", handlers.DecisionHandler(application.Logger, orderService))
		})
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}
