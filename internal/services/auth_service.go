package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smartdigilab/backend/internal/models"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/time/rate"
)

// TokenCookieName is the cookie that carries the JWT for browser clients
const TokenCookieName = "token"

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
	limiter   *loginLimiter
	logger    *zap.Logger
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"admin@smartdigilab.test"` // Account email
	Password string `json:"password" validate:"required" example:"password"`                   // Account password
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=admin user" example:"admin"` // Optional role the account must have
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token     string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	ExpiresAt time.Time   `json:"expires_at"`                                              // Token expiry
	User      models.User `json:"user"`                                                    // User information
}

// Claims is the JWT payload issued at login
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	viper.SetDefault("auth.login_attempts_per_minute", 5)

	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
		limiter:   newLoginLimiter(viper.GetInt("auth.login_attempts_per_minute")),
		logger:    logger.Named("auth"),
	}
}

func (s *AuthService) sendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	SendErrorResponse(w, message, statusCode, validationErr)
}

// Login handles user authentication
// @Summary Login user
// @Description Authenticate with email and password. When role is given the account must have that role.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 429 {object} ErrorResponse "Too many login attempts"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	clientIP := clientAddress(r)
	s.logger.Debug("login attempt", zap.String("ip", clientIP))

	if !s.limiter.allow(clientIP) {
		s.logger.Warn("login rate limited", zap.String("ip", clientIP))
		s.sendErrorResponse(w, "Too many login attempts, try again later", http.StatusTooManyRequests, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		s.logger.Debug("login failed, invalid request", zap.Error(err))
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, name, email, role, password_hash, created_at
		FROM users
		WHERE email = $1`, email).Scan(
		&user.ID, &user.Name, &user.Email, &user.Role, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("login lookup failed", zap.String("email", email), zap.Error(err))
			s.sendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
			return
		}
		s.logger.Info("login failed, unknown email", zap.String("email", email))
		s.sendErrorResponse(w, "Email atau password salah.", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, user.PasswordHash) {
		s.logger.Info("login failed, wrong password", zap.Int64("user_id", user.ID))
		s.sendErrorResponse(w, "Email atau password salah.", http.StatusUnauthorized, nil)
		return
	}

	if req.Role != "" && req.Role != user.Role {
		s.logger.Info("login failed, role mismatch", zap.Int64("user_id", user.ID), zap.String("requested_role", req.Role))
		s.sendErrorResponse(w, "Role akun tidak sesuai dengan pilihan login.", http.StatusUnauthorized, nil)
		return
	}

	token, expiresAt, err := generateJWT(user.ID, user.Role)
	if err != nil {
		s.logger.Error("jwt generation failed", zap.Int64("user_id", user.ID), zap.Error(err))
		s.sendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.logger.Info("login successful", zap.Int64("user_id", user.ID), zap.String("role", user.Role))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// Logout handles user logout
// @Summary Logout user
// @Description Blacklist the current token and clear the session cookie
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	if token := TokenFromRequest(r); token != "" && s.redis != nil {
		expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
		if claims, err := ParseToken(token); err == nil && claims.ExpiresAt != nil {
			expiry = time.Until(claims.ExpiresAt.Time)
		}

		if err := s.blacklistToken(r.Context(), token, expiry); err != nil {
			s.logger.Error("failed to blacklist token", zap.Error(err))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// Me returns the authenticated user
// @Summary Current user
// @Description Get the authenticated user's profile
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User "User details"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "User not found"
// @Router /auth/me [get]
func (s *AuthService) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		s.sendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	user, err := s.GetUser(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.sendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		s.logger.Error("failed to fetch user", zap.Int64("user_id", principal.UserID), zap.Error(err))
		s.sendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func (s *AuthService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, created_at
		FROM users
		WHERE id = $1`, id).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// defaultUsers mirrors the accounts a fresh installation ships with
var defaultUsers = []struct {
	name, email, role string
}{
	{"Admin SmartDigiLab", "admin@smartdigilab.test", models.RoleAdmin},
	{"User SmartDigiLab", "user@smartdigilab.test", models.RoleUser},
}

// SeedDefaultUsers creates the default admin and user accounts when missing
func (s *AuthService) SeedDefaultUsers(ctx context.Context, password string) error {
	for _, u := range defaultUsers {
		hash, err := hashPassword(password)
		if err != nil {
			return err
		}

		result, err := s.db.ExecContext(ctx, `
			INSERT INTO users (name, email, role, password_hash)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (email) DO NOTHING`,
			u.name, u.email, u.role, hash)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.email, err)
		}

		if n, _ := result.RowsAffected(); n > 0 {
			s.logger.Info("seeded user", zap.String("email", u.email), zap.String("role", u.role))
		}
	}
	return nil
}

type principalKey struct{}

// WithPrincipal stores the authenticated caller in ctx
func WithPrincipal(ctx context.Context, principal models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(models.Principal)
	return principal, ok
}

// TokenFromRequest reads the bearer token, falling back to the session cookie
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := r.Cookie(TokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// blacklistToken keeps token rejected until it would have expired anyway
func (s *AuthService) blacklistToken(ctx context.Context, token string, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}
	return s.redis.Set(ctx, BlacklistKey(token), "1", expiry).Err()
}

func BlacklistKey(token string) string {
	return fmt.Sprintf("blacklist:%s", token)
}

// ParseToken verifies an HS256 token and returns its claims
func ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func generateJWT(userID int64, role string) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString([]byte(viper.GetString("jwt.secret_key")))
	return signed, expiresAt, err
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}

// loginLimiter keeps one token bucket per client address. Buckets idle for
// longer than limiterIdleTTL are dropped; a dropped bucket would have refilled
// completely anyway.
type loginLimiter struct {
	mu        sync.Mutex
	perMin    int
	buckets   map[string]*clientBucket
	lastSweep time.Time
	now       func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTTL = 10 * time.Minute

func newLoginLimiter(perMinute int) *loginLimiter {
	if perMinute <= 0 {
		perMinute = 5
	}
	return &loginLimiter{
		perMin:  perMinute,
		buckets: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

func (l *loginLimiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= limiterIdleTTL {
		l.evictIdle(now)
		l.lastSweep = now
	}

	bucket, ok := l.buckets[client]
	if !ok {
		bucket = &clientBucket{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin),
		}
		l.buckets[client] = bucket
	}
	bucket.lastSeen = now

	return bucket.limiter.AllowN(now, 1)
}

func (l *loginLimiter) evictIdle(now time.Time) {
	for client, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= limiterIdleTTL {
			delete(l.buckets, client)
		}
	}
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
