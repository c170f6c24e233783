package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/teamsync/go/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// SecretSource defines what the gate needs from storage
type SecretSource interface {
	SecretHash(ctx context.Context, kind models.TopicKind, id string) (string, error)
}

// Gate verifies optional topic secrets against their stored bcrypt hashes.
// It never mutates anything.
type Gate struct {
	source SecretSource
	cost   int
}

// NewGate creates a gate reading hashes from source
func NewGate(source SecretSource) *Gate {
	return &Gate{source: source, cost: bcrypt.DefaultCost}
}

// WithCost returns a gate hashing new secrets at the given bcrypt cost
func (g *Gate) WithCost(cost int) *Gate {
	return &Gate{source: g.source, cost: cost}
}

// Verify reports whether secret grants access to the topic. Topics without
// a stored hash are always open; a secured topic requires a non-empty
// matching secret.
func (g *Gate) Verify(ctx context.Context, kind models.TopicKind, topicID string, secret *string) (bool, error) {
	hash, err := g.source.SecretHash(ctx, kind, topicID)
	if err != nil {
		return false, fmt.Errorf("failed to load topic secret: %w", err)
	}
	return Matches(hash, secret), nil
}

// Check is Verify returning models.ErrForbidden on denial
func (g *Gate) Check(ctx context.Context, kind models.TopicKind, topicID string, secret *string) error {
	ok, err := g.Verify(ctx, kind, topicID, secret)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", kind, topicID, models.ErrForbidden)
	}
	return nil
}

// Hash returns the bcrypt hash of secret. An empty secret yields an empty
// hash, which removes protection from a topic.
func (g *Gate) Hash(secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), g.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("secret too long: %w", models.ErrInvalid)
		}
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// Matches reports whether secret satisfies hash without touching storage
func Matches(hash string, secret *string) bool {
	if hash == "" {
		return true
	}
	if secret == nil || *secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(*secret)) == nil
}
