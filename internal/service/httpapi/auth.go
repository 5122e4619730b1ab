package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL = 8 * time.Hour
	tokenIssuer     = "forwarder"

	RoleAdmin = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Actor — сотрудник, от имени которого выполняется запрос. Username пишется в историю статусов.
type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginResponse возвращается при успешном входе.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// AuthManager выдаёт и проверяет bearer-токены сотрудников.
// Учётные записи задаются при старте: логин → bcrypt-хеш пароля.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	staff    map[string]string
	now      func() time.Time
}

// NewAuthManager создаёт менеджер. Пароли, не похожие на bcrypt-хеш, хешируются на месте.
func NewAuthManager(secret string, tokenTTL time.Duration, staff map[string]string) (*AuthManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}

	hashed := make(map[string]string, len(staff))
	for username, password := range staff {
		username = strings.ToLower(strings.TrimSpace(username))
		if username == "" || password == "" {
			continue
		}
		if !isPasswordHash(password) {
			h, err := HashPassword(password)
			if err != nil {
				return nil, err
			}
			password = h
		}
		hashed[username] = password
	}

	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		staff:    hashed,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Login проверяет пароль и выпускает токен.
func (a *AuthManager) Login(username, password string) (LoginResponse, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	stored, ok := a.staff[username]
	if !ok || !verifyPassword(stored, password) {
		return LoginResponse{}, ErrInvalidCredentials
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(username, RoleAdmin, expiresAt)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{AccessToken: token, Role: RoleAdmin, ExpiresAt: expiresAt}, nil
}

// ParseToken проверяет подпись и срок действия токена.
func (a *AuthManager) ParseToken(tokenStr string) (Actor, error) {
	claims := &staffClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Actor{}, ErrInvalidToken
	}
	return Actor{Username: sub, Role: claims.Role}, nil
}

// VerifyStaff проверяет токен и роль сотрудника; используется gRPC-интерсептором.
func (a *AuthManager) VerifyStaff(tokenStr string) (string, error) {
	actor, err := a.ParseToken(tokenStr)
	if err != nil {
		return "", err
	}
	if actor.Role != RoleAdmin {
		return "", ErrInvalidToken
	}
	return actor.Username, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// HashPassword возвращает bcrypt-хеш пароля.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func verifyPassword(stored, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
