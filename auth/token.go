package auth

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru"
	"github.com/quietpages/quietpages/config"
)

const (
	sessionCacheSize = 1024
	roomIdAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomIdLength     = 8
)

// Session is what a verified room token grants: one room, one role.
type Session struct {
	RoomId  string `json:"roomId"`
	UserId  string `json:"userId"`
	IsAdmin bool   `json:"isAdmin"`
}

type sessionClaims struct {
	Session
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HMAC-signed room access tokens. Verified
// tokens are kept in a small LRU so the hot paths (send, poll, typing) do not
// re-verify the signature on every request.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	cache  *lru.Cache
}

func NewAuthenticator(cfg *config.Config) (*Authenticator, error) {
	if cfg.AuthConfig.Secret == "" {
		return nil, fmt.Errorf("no auth secret configured")
	}
	cache, err := lru.New(sessionCacheSize)
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		secret: []byte(cfg.AuthConfig.Secret),
		ttl:    cfg.AuthConfig.TokenTTL,
		cache:  cache,
	}, nil
}

func (a *Authenticator) IssueToken(session Session) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Session: session,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate verifies the token and returns the session it carries.
func (a *Authenticator) Authenticate(token string) (*Session, error) {
	if cached, ok := a.cache.Get(token); ok {
		session := cached.(*sessionClaims)
		if session.ExpiresAt != nil && session.ExpiresAt.After(time.Now()) {
			return &session.Session, nil
		}
		a.cache.Remove(token)
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	a.cache.Add(token, claims)
	return &claims.Session, nil
}

// NewRoomId generates a short uppercase room code.
func NewRoomId() string {
	b := make([]byte, roomIdLength)
	for i := range b {
		b[i] = roomIdAlphabet[rand.Intn(len(roomIdAlphabet))]
	}
	return string(b)
}

// NewUserId generates an identifier for an ordinary participant.
func NewUserId() string {
	return fmt.Sprintf("user_%d_%06d", time.Now().Unix(), rand.Intn(1000000))
}
