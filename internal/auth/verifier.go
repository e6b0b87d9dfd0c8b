package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"bizlink/messaging-service/internal/models"
	"bizlink/messaging-service/internal/repository"
)

var (
	ErrMissingToken    = errors.New("missing credential token")
	ErrInvalidToken    = errors.New("invalid credential token")
	ErrTokenExpired    = errors.New("credential token expired")
	ErrAccountInactive = errors.New("account is inactive")
)

// Verifier is the connection gatekeeper. It validates a bearer credential's
// signature and expiry, resolves it to an account, and checks the account is
// active. Nothing past this point runs for a connection it refuses.
type Verifier struct {
	secret   []byte
	accounts repository.AccountRepository
}

func NewVerifier(secret string, accounts repository.AccountRepository) *Verifier {
	return &Verifier{
		secret:   []byte(secret),
		accounts: accounts,
	}
}

// Authenticate resolves token to an active account or fails.
func (v *Verifier) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	account, err := v.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}

	return account, nil
}

// TokenFromRequest extracts the credential from an Authorization bearer
// header or, for websocket upgrades initiated by browsers, a token query
// parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer ")
		}
		return header
	}
	return r.URL.Query().Get("token")
}
