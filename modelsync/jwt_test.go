package modelsync

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	assert.Equal(t, err, nil)

	userId := NewOid()
	clientId := NewOid()
	tokenStr, err := MintSessionToken(privateKey, userId, "brien", clientId, time.Hour)
	assert.Equal(t, err, nil)

	byToken, err := ParseSessionTokenUnverified(tokenStr)
	assert.Equal(t, err, nil)
	assert.Equal(t, byToken.UserId, userId)
	assert.Equal(t, byToken.UserName, "brien")
	assert.Equal(t, byToken.ClientId, clientId)

	// the signature verifies against the matching public key
	token, err := gojwt.Parse(tokenStr, func(token *gojwt.Token) (any, error) {
		return publicKey, nil
	}, gojwt.WithValidMethods([]string{"EdDSA"}))
	assert.Equal(t, err, nil)
	assert.Equal(t, token.Valid, true)
}

func TestParseSessionTokenUnverifiedBadToken(t *testing.T) {
	_, err := ParseSessionTokenUnverified("not.a.token")
	assert.NotEqual(t, err, nil)
}
