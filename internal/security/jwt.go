package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
)

// MemberClaims are issued to members by the external auth service.
type MemberClaims struct {
	MemberID uint64 `json:"member_id"`
	Handle   string `json:"handle"`
	jwt.RegisteredClaims
}

// AdminClaims are issued to back-office operators. Permissions holds
// "METHOD /path" keys; SuperAdmin bypasses them.
type AdminClaims struct {
	AdminID     uint64   `json:"admin_id"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions,omitempty"`
	SuperAdmin  bool     `json:"super_admin,omitempty"`
	jwt.RegisteredClaims
}

// GenerateMemberToken signs a member JWT.
func GenerateMemberToken(secret string, memberID uint64, handle string, expiry time.Duration) (string, error) {
	return sign(secret, &MemberClaims{MemberID: memberID, Handle: handle, RegisteredClaims: registered(expiry)})
}

// GenerateAdminToken signs an admin JWT.
func GenerateAdminToken(secret string, adminID uint64, username string, permissions []string, superAdmin bool, expiry time.Duration) (string, error) {
	return sign(secret, &AdminClaims{
		AdminID:          adminID,
		Username:         username,
		Permissions:      permissions,
		SuperAdmin:       superAdmin,
		RegisteredClaims: registered(expiry),
	})
}

// ParseMemberToken validates a member JWT and returns its claims.
func ParseMemberToken(secret, tokenString string) (*MemberClaims, error) {
	claims := &MemberClaims{}
	if err := parse(secret, tokenString, claims); err != nil {
		return nil, err
	}
	if claims.MemberID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseAdminToken validates an admin JWT and returns its claims.
func ParseAdminToken(secret, tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if err := parse(secret, tokenString, claims); err != nil {
		return nil, err
	}
	if claims.AdminID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func registered(expiry time.Duration) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
}

func sign(secret string, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parse(secret, tokenString string, claims jwt.Claims) error {
	if secret == "" {
		return ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
