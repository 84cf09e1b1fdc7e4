package modelsync

import (
	"crypto/ed25519"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// identity claims carried by a session token. the key pair is supplied
// externally; no key generation happens here.
type ByToken struct {
	UserId   Oid
	UserName string
	ClientId Oid
}

// mint a session token for the transport auth handshake, signed with the
// externally supplied private key
func MintSessionToken(
	privateKey ed25519.PrivateKey,
	userId Oid,
	userName string,
	clientId Oid,
	ttl time.Duration,
) (string, error) {
	now := time.Now()
	token := gojwt.NewWithClaims(gojwt.SigningMethodEdDSA, gojwt.MapClaims{
		"user_id":   userId.String(),
		"user_name": userName,
		"client_id": clientId.String(),
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	})
	return token.SignedString(privateKey)
}

// the repository verifies the signature; locally the claims are read
// unverified for identity bookkeeping only
func ParseSessionTokenUnverified(tokenStr string) (*ByToken, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenStr, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byToken := &ByToken{}
	if userIdStr, ok := claims["user_id"]; ok {
		if userId, err := ParseOid(userIdStr.(string)); err == nil {
			byToken.UserId = userId
		}
	}
	if userName, ok := claims["user_name"]; ok {
		byToken.UserName = userName.(string)
	}
	if clientIdStr, ok := claims["client_id"]; ok {
		if clientId, err := ParseOid(clientIdStr.(string)); err == nil {
			byToken.ClientId = clientId
		}
	}
	return byToken, nil
}
