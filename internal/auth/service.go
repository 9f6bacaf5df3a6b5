// Package auth covers both entry doors: the operator login (argon2id hash in
// the config, JWT session) and the static client tokens machine peers present
// on the websocket. There is no user table; an orchestrator driving exactly
// one printer does not need one.
package auth

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/openmmu/printflow/internal/config"
)

// PrincipalKind separates the human operator session from machine clients.
type PrincipalKind string

const (
	PrincipalOperator PrincipalKind = "operator"
	PrincipalClient   PrincipalKind = "client"
)

// Principal is an authenticated caller.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	Name string        `json:"name"`
}

type Authenticator struct {
	cfg    config.AuthConfig
	jwt    *JWTHandler
	hasher *PasswordHasher
	tokens *clientTokenSet
	logger *zap.Logger
}

func NewAuthenticator(cfg config.AuthConfig, logger *zap.Logger) (*Authenticator, error) {
	tokens, err := newClientTokenSet(cfg.ClientTokenHashes)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		cfg:    cfg,
		jwt:    NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		hasher: NewPasswordHasher(),
		tokens: tokens,
		logger: logger.Named("auth"),
	}, nil
}

// Login verifies operator credentials and returns a session token. The error
// is the same whether the username or the password was wrong.
func (a *Authenticator) Login(username, password string) (string, error) {
	if a.cfg.OperatorUser == "" || a.cfg.OperatorHash == "" {
		return "", fmt.Errorf("no operator account configured")
	}
	if username != a.cfg.OperatorUser {
		a.logger.Warn("Login failed", zap.String("username", username))
		return "", fmt.Errorf("invalid credentials")
	}

	valid, err := a.hasher.VerifyPassword(password, a.cfg.OperatorHash)
	if err != nil || !valid {
		a.logger.Warn("Login failed", zap.String("username", username))
		return "", fmt.Errorf("invalid credentials")
	}

	a.logger.Info("Operator logged in", zap.String("username", username))
	return a.jwt.Generate(username)
}

// Identify resolves a bearer token to a principal: session JWTs first, then
// the static client tokens.
func (a *Authenticator) Identify(token string) (Principal, error) {
	if claims, err := a.jwt.Validate(token); err == nil {
		return Principal{Kind: PrincipalOperator, Name: claims.Username}, nil
	}
	if a.tokens.contains(token) {
		return Principal{Kind: PrincipalClient, Name: "client"}, nil
	}
	return Principal{}, fmt.Errorf("invalid or expired token")
}

// ValidateToken is the websocket hub's view of the authenticator.
func (a *Authenticator) ValidateToken(token string) error {
	_, err := a.Identify(token)
	return err
}
