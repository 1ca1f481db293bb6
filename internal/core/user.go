package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/hallvard/fleet/internal/model"
	"github.com/hallvard/fleet/internal/platform"
)

// UserService owns accounts, API tokens, and the deletion policy that keeps
// every container with at least one ROOT binding.
type UserService struct {
	db     DB
	logger zerolog.Logger
}

func NewUserService(db DB, logger zerolog.Logger) *UserService {
	return &UserService{
		db:     db,
		logger: logger.With().Str("component", "users").Logger(),
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Register creates an account. The password is stored as a bcrypt hash.
func (s *UserService) Register(ctx context.Context, name, password string) (*model.User, error) {
	if !platform.ValidUsername(name) {
		return nil, Errf(ReasonInvalidPayload, "invalid username")
	}
	if len(password) < 8 {
		return nil, Errf(ReasonInvalidPayload, "password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:           platform.NewID(),
		Name:         name,
		PasswordHash: string(hash),
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO users (id, name, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())`,
		user.ID, user.Name, user.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, Errf(ReasonDuplicateEntry, "username %s is taken", name)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	s.logger.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

// Login checks the credentials and mints an API token. Only the token hash
// is stored; the plaintext goes back to the caller once.
func (s *UserService) Login(ctx context.Context, name, password string) (string, error) {
	user, err := fetchUserByName(ctx, s.db, name)
	if err != nil {
		var se *ServiceError
		if errors.As(err, &se) && se.Reason == ReasonUserNotFound {
			return "", Errf(ReasonInvalidToken, "invalid credentials")
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", Errf(ReasonInvalidToken, "invalid credentials")
	}

	token := platform.NewToken()
	_, err = s.db.Exec(ctx,
		`INSERT INTO api_tokens (token_hash, user_id, created_at) VALUES ($1, $2, now())`,
		hashToken(token), user.ID)
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Authenticate resolves an API token to its user.
func (s *UserService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, Errf(ReasonInvalidToken, "missing token")
	}
	var userID string
	err := s.db.QueryRow(ctx,
		`SELECT user_id FROM api_tokens WHERE token_hash = $1`, hashToken(token)).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errf(ReasonInvalidToken, "unknown token")
		}
		return nil, fmt.Errorf("look up token: %w", err)
	}
	return fetchUser(ctx, s.db, userID)
}

// Logout revokes a single token.
func (s *UserService) Logout(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM api_tokens WHERE token_hash = $1`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	return fetchUser(ctx, s.db, id)
}

// Delete removes an account. For every container where the user holds ROOT:
// if the container has no other user at all it is a wild container and the
// deletion is refused; if other users exist but none is ROOT, the earliest
// remaining binding is promoted to ROOT before the account goes away.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	if _, err := fetchUser(ctx, s.db, userID); err != nil {
		return err
	}

	bindings, err := listBindingsForUser(ctx, s.db, userID)
	if err != nil {
		return err
	}

	var promotions []model.UserContainerBinding
	for _, b := range bindings {
		if b.Role != model.RoleRoot {
			continue
		}
		others, err := listBindingsForContainer(ctx, s.db, b.ContainerID)
		if err != nil {
			return err
		}

		var heir *model.UserContainerBinding
		hasOtherRoot := false
		for i := range others {
			o := &others[i]
			if o.UserID == userID {
				continue
			}
			if o.Role == model.RoleRoot {
				hasOtherRoot = true
				break
			}
			if heir == nil || o.CreatedAt.Before(heir.CreatedAt) {
				heir = o
			}
		}
		if hasOtherRoot {
			continue
		}
		if heir == nil {
			return Errf(ReasonWildContainer,
				"container %s would be left without any user; remove it first", b.ContainerID)
		}
		promotions = append(promotions, *heir)
	}

	for _, heir := range promotions {
		heir.Role = model.RoleRoot
		heir.Username = model.RootUsername
		if err := upsertBinding(ctx, s.db, &heir); err != nil {
			return err
		}
		s.logger.Info().Str("user_id", heir.UserID).Str("container_id", heir.ContainerID).
			Msg("promoted earliest collaborator to root")
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM api_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete tokens for user %s: %w", userID, err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM user_container_bindings WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete bindings for user %s: %w", userID, err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	s.logger.Info().Str("user_id", userID).Msg("user deleted")
	return nil
}
