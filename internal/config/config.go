package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string           `yaml:"env" env-default:"development"` // environment
	HTTPServer HTTPServerConfig `yaml:"http_server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Migrations MigrationsConfig `yaml:"migrations"`
	Order      OrderConfig      `yaml:"order"`
	Payment    PaymentConfig    `yaml:"payment"`
	Kafka      KafkaConfig      `yaml:"kafka"`
}

// HTTPServerConfig структура http сервера
type HTTPServerConfig struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// DatabaseConfig структура по работе с БД
type DatabaseConfig struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"-" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env-required:"true"`
}

// JWTConfig настройка jwt
type JWTConfig struct {
	Secret   string `yaml:"-" env:"JWT_SECRET" env-required:"true"`
	TokenTTL int    `yaml:"token_ttl" env-default:"60"`
}

type MigrationsConfig struct {
	Path string `yaml:"path" env-default:"./migrations"`
}

// OrderConfig параметры жизненного цикла заказа
type OrderConfig struct {
	// ExpiryWindow — сколько ждём начала оплаты, прежде чем снять заказ
	ExpiryWindow time.Duration `yaml:"expiry_window" env-default:"10m"`
}

// PaymentConfig настройки платёжных шлюзов
type PaymentConfig struct {
	PayHub PayHubConfig `yaml:"payhub"`
	QRPay  QRPayConfig  `yaml:"qrpay"`
}

// PayHubConfig — redirect-шлюз: сумма конвертируется в USD, пользователь
// возвращается на наш return URL после одобрения платежа
type PayHubConfig struct {
	BaseURL    string `yaml:"base_url" env-default:"https://api.sandbox.payhub.example"`
	ClientID   string `yaml:"client_id"`
	Secret     string `yaml:"-" env:"PAYHUB_SECRET"`
	USDRate    int64  `yaml:"usd_rate" env-default:"25000"` // курс VND за 1 USD, фиксированный
	ReturnURL  string `yaml:"return_url" env-default:"http://localhost:8080/api/payments/payhub/return"`
	SuccessURL string `yaml:"success_url" env-default:"http://localhost:3000/payment/success"`
	FailureURL string `yaml:"failure_url" env-default:"http://localhost:3000/payment/failure"`
}

// QRPayConfig — QR-шлюз: подтверждение оплаты приходит входящим webhook-ом
type QRPayConfig struct {
	BaseURL      string `yaml:"base_url" env-default:"https://api.qrpay.example"`
	MerchantCode string `yaml:"merchant_code"`
	Secret       string `yaml:"-" env:"QRPAY_SECRET"`
	// Учётные данные, которыми провайдер аутентифицируется на нашем webhook-е.
	// Пароль храним только в виде bcrypt-хэша.
	WebhookUser     string `yaml:"webhook_user" env-default:"qrpay"`
	WebhookPassHash string `yaml:"-" env:"QRPAY_WEBHOOK_HASH"`
}

// KafkaConfig публикация событий заказа (письма отправляет отдельный консьюмер)
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env-default:"false"`
	Brokers []string `yaml:"brokers" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env-default:"order-events"`
}

// MustLoad - если не загружаем - паникуем
func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		log.Fatal("CONFIG_PATH not exists")
	}
	return MustLoadByPath(configPath)
}

func fetchConfigPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("can't read config file %s", configPath)
	}

	return &cfg
}
