package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tale-server/internal/models"
)

type pgUserRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgUserRepository создает новый экземпляр репозитория пользователей.
func NewPgUserRepository(db *pgxpool.Pool, logger *zap.Logger) UserRepository {
	return &pgUserRepository{
		db:     db,
		logger: logger.Named("UserRepo"),
	}
}

func (r *pgUserRepository) GetNativeLanguage(ctx context.Context, userID uuid.UUID) (string, error) {
	var language string
	err := r.db.QueryRow(ctx, `SELECT native_language FROM users WHERE id = $1`, userID).Scan(&language)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения родного языка пользователя %s: %w", userID, err)
	}
	return language, nil
}
