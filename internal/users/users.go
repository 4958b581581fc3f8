package users

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tally/internal/pkg/validation"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// TokenPrefix marks dashboard API tokens.
const TokenPrefix = "tk_"

type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Plan         string    `gorm:"not null;default:free" json:"plan"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// APIToken is a bearer credential for the dashboard API. Only the keyed hash
// of the token is stored.
type APIToken struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     string `gorm:"index;size:36;not null"`
	TokenHash  string `gorm:"uniqueIndex;size:64;not null"`
	LastUsedAt *time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

var (
	// ErrUserExists is returned when attempting to create a user that already exists.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned when a user lookup fails.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned for a wrong email or password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidToken is returned when a bearer token matches no user.
	ErrInvalidToken = errors.New("invalid token")
)

// RegisterInput is the payload accepted at registration.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindByEmail retrieves a user by email.
func FindByEmail(db *gorm.DB, email string) (*User, error) {
	var user User
	err := db.Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID retrieves a user by ID.
func FindByID(db *gorm.DB, id string) (*User, error) {
	var user User
	err := db.Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Register creates a user. Email and a password of at least MinPasswordLength
// characters are required; the email is stored lowercased.
func Register(db *gorm.DB, logger *slog.Logger, in RegisterInput) (*User, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, validation.New("email", "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, validation.New("email", "email is not valid")
	}
	if in.Password == "" {
		return nil, validation.New("password", "password is required")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, validation.New("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	if _, err := FindByEmail(db, email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: string(hashedPassword),
		Plan:         "free",
	}
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(user).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	logger.Info("User registered", slog.String("user_id", user.ID))
	return user, nil
}

// Authenticate checks an email and password pair.
func Authenticate(db *gorm.DB, email, password string) (*User, error) {
	user, err := FindByEmail(db, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePassword updates a user's password given their email.
func ChangePassword(db *gorm.DB, logger *slog.Logger, email, password string) error {
	if len(password) < MinPasswordLength {
		return validation.New("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	user, err := FindByEmail(db, email)
	if err != nil {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := tx.Model(user).Update("password_hash", string(hashedPassword)).Error; err != nil {
			return err
		}
		// Existing sessions end with the old password.
		return tx.Where("user_id = ?", user.ID).Delete(&APIToken{}).Error
	})
}

// HashToken returns the keyed hash stored for a plain token.
func HashToken(secret, token string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// IssueToken creates a new bearer token for userID and returns it in plain
// text. It cannot be recovered later.
func IssueToken(db *gorm.DB, logger *slog.Logger, secret, userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := TokenPrefix + hex.EncodeToString(raw)

	record := &APIToken{UserID: userID, TokenHash: HashToken(secret, token)}
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(record).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	return token, nil
}

// ResolveToken returns the user owning a plain bearer token.
func ResolveToken(db *gorm.DB, secret, token string) (*User, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return nil, ErrInvalidToken
	}

	var record APIToken
	err := db.Where("token_hash = ?", HashToken(secret, token)).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}

	user, err := FindByID(db, record.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	// Best effort; a failed touch must not reject the request.
	now := time.Now().UTC()
	db.Model(&APIToken{}).Where("id = ?", record.ID).Update("last_used_at", now)

	return user, nil
}

// RevokeToken deletes a plain bearer token.
func RevokeToken(db *gorm.DB, logger *slog.Logger, secret, token string) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Where("token_hash = ?", HashToken(secret, token)).Delete(&APIToken{}).Error
	})
}
