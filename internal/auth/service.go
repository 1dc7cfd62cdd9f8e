package auth

import (
	"errors"
	"strings"
	"time"

	"lv-margin/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidSecret = errors.New("invalid internal token")
)

// Claims binds a bearer token to one account: the subject is the user and
// Venue scopes the account.
type Claims struct {
	Venue string `json:"venue"`
	jwt.RegisteredClaims
}

type Service struct {
	issuer       string
	secret       []byte
	ttl          time.Duration
	internalHash []byte
	now          func() time.Time
}

func NewService(issuer string, secret []byte, ttl time.Duration, internalTokenHash string) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		issuer:       issuer,
		secret:       secret,
		ttl:          ttl,
		internalHash: []byte(strings.TrimSpace(internalTokenHash)),
		now:          time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Issue signs a token for key. The trusted caller (the chat layer) obtains
// tokens through the internal endpoint.
func (s *Service) Issue(key model.AccountKey) (string, time.Time, error) {
	if strings.TrimSpace(key.UserID) == "" || strings.TrimSpace(key.Venue) == "" {
		return "", time.Time{}, errors.New("user_id and venue are required")
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := Claims{
		Venue: key.Venue,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   key.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	return signed, exp, err
}

// ParseToken returns the account key carried by token. A token without a
// venue claim yields an empty Venue; the caller may fill it from a header.
func (s *Service) ParseToken(token string) (model.AccountKey, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	if err != nil {
		return model.AccountKey{}, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return model.AccountKey{}, ErrInvalidToken
	}
	return model.AccountKey{UserID: claims.Subject, Venue: claims.Venue}, nil
}

// CheckInternal compares token against the configured bcrypt hash. With no
// hash configured every internal call is refused.
func (s *Service) CheckInternal(token string) error {
	if len(s.internalHash) == 0 || token == "" {
		return ErrInvalidSecret
	}
	if err := bcrypt.CompareHashAndPassword(s.internalHash, []byte(token)); err != nil {
		return ErrInvalidSecret
	}
	return nil
}
