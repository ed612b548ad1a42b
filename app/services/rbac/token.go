package rbac

import (
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Actor tokens carry an already-assigned role between the console and
// the engine. This is a claim carrier, not an authentication protocol:
// the engine trusts the role inside a validly signed token.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type TokenSigner struct {
	Secret []byte
	Issuer string
	ExpMin int
}

func (s *TokenSigner) Sign(name, role string) (string, error) {
	now := time.Now()
	expMin := s.ExpMin
	if expMin <= 0 {
		expMin = 60
	}
	claims := Claims{
		Name: name, Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expMin) * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

func (s *TokenSigner) Parse(tokenStr, source string) (*Actor, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) { return s.Secret, nil })
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return &Actor{Name: claims.Name, Role: claims.Role, Source: source}, nil
}
