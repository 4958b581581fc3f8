package projects

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"tally/internal/events"
	"tally/internal/pkg/validation"
)

// APIKeyPrefix marks tracking keys issued by this service.
const APIKeyPrefix = "la_"

const (
	apiKeyLength   = 32
	apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	// ErrProjectNotFound is returned when a project does not exist or belongs
	// to another user. The two cases are deliberately indistinguishable.
	ErrProjectNotFound = errors.New("project not found")

	// ErrInvalidAPIKey is returned when a key resolves to no active project.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Project is a tracked website owned by one user.
type Project struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"uniqueIndex:idx_projects_user_domain;size:36;not null" json:"userId"`
	Name      string    `gorm:"not null" json:"name"`
	Domain    string    `gorm:"uniqueIndex:idx_projects_user_domain;not null" json:"domain"`
	APIKey    string    `gorm:"uniqueIndex;size:64;not null" json:"apiKey"`
	IsActive  bool      `gorm:"not null" json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateInput holds the fields a project owner may change. Nil fields are left alone.
type UpdateInput struct {
	Name             *string `json:"name"`
	Domain           *string `json:"domain"`
	IsActive         *bool   `json:"isActive"`
	RegenerateAPIKey bool    `json:"regenerateApiKey"`
}

// GenerateAPIKey returns a new random tracking key.
func GenerateAPIKey() (string, error) {
	var b strings.Builder
	b.Grow(len(APIKeyPrefix) + apiKeyLength)
	b.WriteString(APIKeyPrefix)
	max := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := 0; i < apiKeyLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate API key: %w", err)
		}
		b.WriteByte(apiKeyAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeDomain lowercases a domain and strips the scheme and trailing slashes.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimRight(d, "/")
}

// ResolveAPIKey returns the active project owning apiKey. Unknown keys and keys
// of inactive projects both yield ErrInvalidAPIKey.
func ResolveAPIKey(db *gorm.DB, apiKey string) (*Project, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	var project Project
	err := db.Where("api_key = ? AND is_active = ?", apiKey, true).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve API key: %w", err)
	}
	return &project, nil
}

// Create registers a new active project for userID.
func Create(db *gorm.DB, logger *slog.Logger, userID, name, domain string) (*Project, error) {
	name = strings.TrimSpace(name)
	domain = NormalizeDomain(domain)
	if name == "" {
		return nil, validation.New("name", "name is required")
	}
	if domain == "" {
		return nil, validation.New("domain", "domain is required")
	}

	apiKey, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	project := &Project{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Domain:   domain,
		APIKey:   apiKey,
		IsActive: true,
	}

	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := ensureDomainAvailable(tx, userID, domain, ""); err != nil {
			return err
		}
		return tx.Create(project).Error
	})
	if err != nil {
		return nil, writeError("create", err)
	}

	logger.Info("Project created",
		slog.String("project_id", project.ID),
		slog.String("domain", project.Domain))
	return project, nil
}

func ensureDomainAvailable(db *gorm.DB, userID, domain, exceptID string) error {
	q := db.Model(&Project{}).Where("user_id = ? AND domain = ?", userID, domain)
	if exceptID != "" {
		q = q.Where("id != ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check domain: %w", err)
	}
	if count > 0 {
		return validation.New("domain", "a project with this domain already exists")
	}
	return nil
}

// writeError maps domain conflicts, including violations of the
// (user_id, domain) unique index, to a validation error.
func writeError(op string, err error) error {
	if ve, ok := validation.As(err); ok {
		return ve
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "projects.user_id, projects.domain") {
		return validation.New("domain", "a project with this domain already exists")
	}
	return fmt.Errorf("failed to %s project: %w", op, err)
}

// ListForUser returns the projects owned by userID, newest first.
func ListForUser(db *gorm.DB, userID string) ([]Project, error) {
	projects := []Project{}
	if err := db.Where("user_id = ?", userID).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// GetForUser returns project id if userID owns it.
func GetForUser(db *gorm.DB, userID, id string) (*Project, error) {
	var project Project
	err := db.Where("id = ? AND user_id = ?", id, userID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &project, nil
}

// FindByID returns a project regardless of owner. Used by admin tooling only.
func FindByID(db *gorm.DB, id string) (*Project, error) {
	var project Project
	err := db.Where("id = ?", id).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &project, nil
}

// Update applies in to a project owned by userID. Regenerating the API key
// invalidates the previous key immediately.
func Update(db *gorm.DB, logger *slog.Logger, userID, id string, in UpdateInput) (*Project, error) {
	project, err := GetForUser(db, userID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, validation.New("name", "name cannot be empty")
		}
		updates["name"] = name
	}
	if in.Domain != nil {
		domain := NormalizeDomain(*in.Domain)
		if domain == "" {
			return nil, validation.New("domain", "domain cannot be empty")
		}
		updates["domain"] = domain
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if in.RegenerateAPIKey {
		apiKey, err := GenerateAPIKey()
		if err != nil {
			return nil, err
		}
		updates["api_key"] = apiKey
	}
	if len(updates) == 0 {
		return project, nil
	}
	updates["updated_at"] = time.Now().UTC()

	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if domain, ok := updates["domain"].(string); ok {
			if err := ensureDomainAvailable(tx, userID, domain, id); err != nil {
				return err
			}
		}
		return tx.Model(&Project{}).Where("id = ? AND user_id = ?", id, userID).Updates(updates).Error
	})
	if err != nil {
		return nil, writeError("update", err)
	}

	if in.RegenerateAPIKey {
		logger.Info("Project API key regenerated", slog.String("project_id", id))
	}
	return GetForUser(db, userID, id)
}

// RotateAPIKey replaces a project's key regardless of owner and returns the
// new key. Used by admin tooling.
func RotateAPIKey(db *gorm.DB, logger *slog.Logger, id string) (string, error) {
	project, err := FindByID(db, id)
	if err != nil {
		return "", err
	}
	updated, err := Update(db, logger, project.UserID, id, UpdateInput{RegenerateAPIKey: true})
	if err != nil {
		return "", err
	}
	return updated.APIKey, nil
}

// Delete removes a project owned by userID together with all its events,
// daily stats and visitor marks.
func Delete(db *gorm.DB, logger *slog.Logger, userID, id string) error {
	if _, err := GetForUser(db, userID, id); err != nil {
		return err
	}

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := events.DeleteProjectData(tx, id); err != nil {
			return err
		}
		return tx.Where("id = ? AND user_id = ?", id, userID).Delete(&Project{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	logger.Info("Project deleted", slog.String("project_id", id))
	return nil
}

// DeleteForUser removes every project owned by userID. Used when a user is deleted.
func DeleteForUser(tx *gorm.DB, userID string) error {
	var ids []string
	if err := tx.Model(&Project{}).Where("user_id = ?", userID).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("failed to list user projects: %w", err)
	}
	for _, id := range ids {
		if err := events.DeleteProjectData(tx, id); err != nil {
			return err
		}
	}
	return tx.Where("user_id = ?", userID).Delete(&Project{}).Error
}
