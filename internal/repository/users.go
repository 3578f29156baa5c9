package repository

import (
	"context"
	"fmt"

	"github.com/glowcast/payout-engine/internal/models"
	"github.com/google/uuid"
)

func (q *Queries) CreateUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, username, role, created_at) VALUES ($1, $2, $3, NOW()) RETURNING created_at`
	err := q.db.QueryRow(ctx, query, user.ID, user.Username, user.Role).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	var u models.User
	query := `SELECT id, username, role, created_at FROM users WHERE id = $1`
	err := q.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var u models.User
	query := `SELECT id, username, role, created_at FROM users WHERE username = $1`
	err := q.db.QueryRow(ctx, query, username).Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}
