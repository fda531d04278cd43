package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Роли, которые сервис различает: покупатель и менеджер магазина
const (
	RoleCustomer = "customer"
	RoleManager  = "manager"
)

// NewToken генерирует JWT-токен для пользователя с заданной ролью и временем жизни.
// Аутентификация живёт в отдельном сервисе, здесь токены выпускаются только
// для тестов и служебных сценариев; секрет общий, из переменной окружения.
func NewToken(ctx context.Context, userID int64, role string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  fmt.Sprintf("%d", userID),
		"role": role,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	secretStr := os.Getenv("JWT_SECRET")
	if secretStr == "" {
		return "", errors.New("JWT_SECRET environment variable is not set")
	}
	secret := []byte(secretStr)
	return token.SignedString(secret)
}
