package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goodtune/labportal/internal/clock"
	"github.com/goodtune/labportal/internal/storage"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTokenTTL is the default lifetime of issued tokens.
	DefaultTokenTTL = 14 * 24 * time.Hour

	// DefaultBcryptCost is the cost factor for bcrypt password hashing.
	DefaultBcryptCost = 12

	// DefaultMinPasswordLength is the shortest accepted password.
	DefaultMinPasswordLength = 8

	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72

	defaultTokenCacheSize = 256
)

var usernamePattern = regexp.MustCompile(`^[\w][\w\.\-]*$`)

// LocalConfig configures a LocalProvider.
type LocalConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	MinPasswordLength int
	BcryptCost        int
	TokenCacheSize    int
}

// Claims represents the JWT claims for a portal user.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// LocalProvider keeps accounts in a storage.UserStore and issues HS256 tokens.
type LocalProvider struct {
	users             storage.UserStore
	secret            []byte
	tokenTTL          time.Duration
	minPasswordLength int
	bcryptCost        int
	tokens            *lru.Cache[string, *Claims]
	clock             clock.Clock
	logger            zerolog.Logger
}

// NewLocalProvider creates a LocalProvider.
func NewLocalProvider(users storage.UserStore, cfg LocalConfig, clk clock.Clock, logger zerolog.Logger) (*LocalProvider, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.MinPasswordLength == 0 {
		cfg.MinPasswordLength = DefaultMinPasswordLength
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	if cfg.TokenCacheSize <= 0 {
		cfg.TokenCacheSize = defaultTokenCacheSize
	}

	tokens, err := lru.New[string, *Claims](cfg.TokenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}

	return &LocalProvider{
		users:             users,
		secret:            []byte(cfg.JWTSecret),
		tokenTTL:          cfg.TokenTTL,
		minPasswordLength: cfg.MinPasswordLength,
		bcryptCost:        cfg.BcryptCost,
		tokens:            tokens,
		clock:             clk,
		logger:            logger.With().Str("component", "identity-local").Logger(),
	}, nil
}

// AuthWithPassword authenticates a user by username or email.
func (p *LocalProvider) AuthWithPassword(ctx context.Context, identity, password string) (*AuthResult, error) {
	if strings.TrimSpace(identity) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := p.users.GetByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := p.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	return &AuthResult{Token: token, Record: recordFromUser(user)}, nil
}

// Create validates and stores a new account.
func (p *LocalProvider) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if fields := p.validateCreate(req); len(fields) > 0 {
		return nil, &ResponseError{Status: 400, Message: "Failed to create record.", Fields: fields}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), p.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := p.clock.Now().UTC()
	user := storage.User{
		ID:              newRecordID(),
		Username:        req.Username,
		Email:           req.Email,
		EmailVisibility: req.EmailVisibility,
		PasswordHash:    string(hash),
		Created:         now,
		Updated:         now,
	}

	if err := p.users.Create(ctx, user); err != nil {
		var conflict *storage.ConflictError
		if errors.As(err, &conflict) {
			return nil, &ResponseError{
				Status:  400,
				Message: "Failed to create record.",
				Fields: map[string]FieldError{
					conflict.Field: {Code: "validation_not_unique", Message: "Value must be unique."},
				},
			}
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	p.logger.Info().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Msg("Account created")

	record := recordFromUser(&user)
	return &record, nil
}

func (p *LocalProvider) validateCreate(req CreateRequest) map[string]FieldError {
	fields := make(map[string]FieldError)
	required := FieldError{Code: "validation_required", Message: "Cannot be blank."}

	switch {
	case req.Username == "":
		fields["username"] = required
	case len(req.Username) < 3 || len(req.Username) > 150:
		fields["username"] = FieldError{Code: "validation_length_out_of_range", Message: "The length must be between 3 and 150."}
	case !usernamePattern.MatchString(req.Username):
		fields["username"] = FieldError{Code: "validation_invalid_format", Message: "Must be in a valid format."}
	}

	if req.Email == "" {
		fields["email"] = required
	} else if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		fields["email"] = FieldError{Code: "validation_is_email", Message: "Must be a valid email address."}
	}

	switch {
	case req.Password == "":
		fields["password"] = required
	case utf8.RuneCountInString(req.Password) < p.minPasswordLength || len(req.Password) > maxPasswordLength:
		fields["password"] = FieldError{
			Code:    "validation_length_out_of_range",
			Message: fmt.Sprintf("The length must be between %d and %d.", p.minPasswordLength, maxPasswordLength),
		}
	}

	switch {
	case req.PasswordConfirm == "":
		fields["passwordConfirm"] = required
	case req.PasswordConfirm != req.Password:
		fields["passwordConfirm"] = FieldError{Code: "validation_values_mismatch", Message: "Values don't match."}
	}

	return fields
}

// GenerateToken issues a signed token for a user.
func (p *LocalProvider) GenerateToken(userID, username string) (string, error) {
	now := p.clock.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ValidateToken verifies the signature and expiry of a token.
func (p *LocalProvider) ValidateToken(tokenString string) (*Claims, error) {
	if cached, ok := p.tokens.Get(tokenString); ok {
		if cached.ExpiresAt != nil && cached.ExpiresAt.After(p.clock.Now()) {
			return cached, nil
		}
		p.tokens.Remove(tokenString)
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	p.tokens.Add(tokenString, claims)
	return claims, nil
}

// VerifyToken implements TokenVerifier.
func (p *LocalProvider) VerifyToken(token string) error {
	_, err := p.ValidateToken(token)
	return err
}

func recordFromUser(u *storage.User) Record {
	return Record{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		EmailVisibility: u.EmailVisibility,
		Created:         u.Created,
	}
}

// newRecordID returns a 15 character lowercase alphanumeric ID.
func newRecordID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
}
