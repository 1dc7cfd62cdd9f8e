package auth

import (
	"testing"
	"time"

	"lv-margin/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIssueAndParse(t *testing.T) {
	svc := NewService("margin", []byte("secret"), time.Hour, "")
	token, exp, err := svc.Issue(model.AccountKey{UserID: "u1", Venue: "g1"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	key, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, model.AccountKey{UserID: "u1", Venue: "g1"}, key)
}

func TestParseRejectsForeignAndExpiredTokens(t *testing.T) {
	svc := NewService("margin", []byte("secret"), time.Hour, "")
	other := NewService("margin", []byte("other"), time.Hour, "")
	token, _, err := other.Issue(model.AccountKey{UserID: "u1", Venue: "g1"})
	require.NoError(t, err)
	_, err = svc.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewService("someone", []byte("secret"), time.Hour, "")
	token, _, err = wrongIssuer.Issue(model.AccountKey{UserID: "u1", Venue: "g1"})
	require.NoError(t, err)
	_, err = svc.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, _, err = svc.Issue(model.AccountKey{UserID: "u1", Venue: "g1"})
	require.NoError(t, err)
	svc.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, err = svc.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRequiresKey(t *testing.T) {
	svc := NewService("margin", []byte("secret"), time.Hour, "")
	_, _, err := svc.Issue(model.AccountKey{UserID: "u1"})
	assert.Error(t, err)
}

func TestCheckInternal(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	svc := NewService("margin", []byte("secret"), time.Hour, string(hash))
	assert.NoError(t, svc.CheckInternal("s3cret"))
	assert.ErrorIs(t, svc.CheckInternal("wrong"), ErrInvalidSecret)
	assert.ErrorIs(t, svc.CheckInternal(""), ErrInvalidSecret)

	open := NewService("margin", []byte("secret"), time.Hour, "")
	assert.ErrorIs(t, open.CheckInternal("s3cret"), ErrInvalidSecret)
}
