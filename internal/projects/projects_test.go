package projects_test

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/events"
	"tally/internal/pkg/validation"
	"tally/internal/projects"
	"tally/internal/testsupport"
)

var apiKeyPattern = regexp.MustCompile(`^la_[A-Za-z0-9]{32}$`)

func ptr[T any](v T) *T { return &v }

func TestGenerateAPIKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := projects.GenerateAPIKey()
		require.NoError(t, err)
		assert.Regexp(t, apiKeyPattern, key)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"Example.com":            "example.com",
		"https://Example.com/":   "example.com",
		"http://blog.example.io": "blog.example.io",
		"  example.com//  ":      "example.com",
		"":                       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, projects.NormalizeDomain(in), in)
	}
}

func TestCreate(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")

	t.Run("creates an active project with a fresh key", func(t *testing.T) {
		project, err := projects.Create(db, logger, user.ID, " Blog ", "https://Blog.Example.com/")
		require.NoError(t, err)

		assert.Len(t, project.ID, 36)
		assert.Equal(t, "Blog", project.Name)
		assert.Equal(t, "blog.example.com", project.Domain)
		assert.True(t, project.IsActive)
		assert.Regexp(t, apiKeyPattern, project.APIKey)
	})

	t.Run("requires name and domain", func(t *testing.T) {
		_, err := projects.Create(db, logger, user.ID, "", "example.com")
		ve, ok := validation.As(err)
		require.True(t, ok)
		assert.Equal(t, "name", ve.Field)

		_, err = projects.Create(db, logger, user.ID, "Site", "https://")
		ve, ok = validation.As(err)
		require.True(t, ok)
		assert.Equal(t, "domain", ve.Field)
	})

	t.Run("rejects a duplicate domain for the same user only", func(t *testing.T) {
		_, err := projects.Create(db, logger, user.ID, "Dup", "dup.example.com")
		require.NoError(t, err)

		_, err = projects.Create(db, logger, user.ID, "Dup again", "HTTPS://dup.example.com")
		assert.True(t, validation.Is(err))

		someoneElse := testsupport.CreateTestUser(t, db, "other@example.com", "password123")
		_, err = projects.Create(db, logger, someoneElse.ID, "Dup", "dup.example.com")
		assert.NoError(t, err)
	})
}

func TestCreateConcurrentSameDomain(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = projects.Create(db, logger, user.ID, "Race", "race.example.com")
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		ve, ok := validation.As(err)
		require.True(t, ok, "expected a validation error, got %v", err)
		assert.Equal(t, "domain", ve.Field)
	}
	assert.Equal(t, 1, created)
}

func TestResolveAPIKey(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")
	project := testsupport.CreateTestProject(t, db, user.ID, "example.com")

	resolved, err := projects.ResolveAPIKey(db, project.APIKey)
	require.NoError(t, err)
	assert.Equal(t, project.ID, resolved.ID)

	for _, key := range []string{"", "la_unknown", project.APIKey + "x", " " + project.APIKey} {
		_, err := projects.ResolveAPIKey(db, key)
		assert.ErrorIs(t, err, projects.ErrInvalidAPIKey, key)
	}

	_, err = projects.Update(db, logger, user.ID, project.ID, projects.UpdateInput{IsActive: ptr(false)})
	require.NoError(t, err)
	_, err = projects.ResolveAPIKey(db, project.APIKey)
	assert.ErrorIs(t, err, projects.ErrInvalidAPIKey)
}

func TestOwnershipScoping(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	owner := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")
	intruder := testsupport.CreateTestUser(t, db, "intruder@example.com", "password123")
	project := testsupport.CreateTestProject(t, db, owner.ID, "example.com")

	_, err := projects.GetForUser(db, intruder.ID, project.ID)
	assert.ErrorIs(t, err, projects.ErrProjectNotFound)

	_, err = projects.Update(db, logger, intruder.ID, project.ID, projects.UpdateInput{Name: ptr("Mine now")})
	assert.ErrorIs(t, err, projects.ErrProjectNotFound)

	err = projects.Delete(db, logger, intruder.ID, project.ID)
	assert.ErrorIs(t, err, projects.ErrProjectNotFound)

	list, err := projects.ListForUser(db, intruder.ID)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	_, err = projects.GetForUser(db, owner.ID, "missing")
	assert.ErrorIs(t, err, projects.ErrProjectNotFound)
}

func TestUpdate(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")
	project := testsupport.CreateTestProject(t, db, user.ID, "example.com")
	testsupport.CreateTestProject(t, db, user.ID, "taken.com")

	t.Run("changes only the given fields", func(t *testing.T) {
		updated, err := projects.Update(db, logger, user.ID, project.ID, projects.UpdateInput{Name: ptr("Renamed")})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Name)
		assert.Equal(t, "example.com", updated.Domain)
		assert.Equal(t, project.APIKey, updated.APIKey)
		assert.True(t, updated.IsActive)
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		updated, err := projects.Update(db, logger, user.ID, project.ID, projects.UpdateInput{})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Name)
	})

	t.Run("validates name and domain", func(t *testing.T) {
		_, err := projects.Update(db, logger, user.ID, project.ID, projects.UpdateInput{Name: ptr("  ")})
		assert.True(t, validation.Is(err))

		_, err = projects.Update(db, logger, user.ID, project.ID, projects.UpdateInput{Domain: ptr("https://taken.com/")})
		assert.True(t, validation.Is(err))

		updated, err := projects.Update(db, logger, user.ID, project.ID, projects.UpdateInput{Domain: ptr("https://Example.com")})
		require.NoError(t, err)
		assert.Equal(t, "example.com", updated.Domain)
	})

	t.Run("regenerating the key invalidates the old one immediately", func(t *testing.T) {
		oldKey := project.APIKey
		updated, err := projects.Update(db, logger, user.ID, project.ID, projects.UpdateInput{RegenerateAPIKey: true})
		require.NoError(t, err)
		assert.NotEqual(t, oldKey, updated.APIKey)
		assert.Regexp(t, apiKeyPattern, updated.APIKey)

		_, err = projects.ResolveAPIKey(db, oldKey)
		assert.ErrorIs(t, err, projects.ErrInvalidAPIKey)

		resolved, err := projects.ResolveAPIKey(db, updated.APIKey)
		require.NoError(t, err)
		assert.Equal(t, project.ID, resolved.ID)
	})
}

func TestRotateAPIKey(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")
	project := testsupport.CreateTestProject(t, db, user.ID, "example.com")

	key, err := projects.RotateAPIKey(db, logger, project.ID)
	require.NoError(t, err)
	assert.NotEqual(t, project.APIKey, key)

	_, err = projects.RotateAPIKey(db, logger, "missing")
	assert.ErrorIs(t, err, projects.ErrProjectNotFound)
}

func TestDeleteCascades(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")
	project := testsupport.CreateTestProject(t, db, user.ID, "example.com")
	kept := testsupport.CreateTestProject(t, db, user.ID, "kept.com")

	for _, id := range []string{project.ID, kept.ID} {
		testsupport.SeedEvent(t, db, id, testsupport.EventSeed{})
		testsupport.SeedDailyStat(t, db, id, "2024-03-10", "/", 1, 1)
	}

	require.NoError(t, projects.Delete(db, logger, user.ID, project.ID))

	_, err := projects.GetForUser(db, user.ID, project.ID)
	assert.ErrorIs(t, err, projects.ErrProjectNotFound)

	count, err := events.CountProjectEvents(db, project.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	var stats int64
	require.NoError(t, db.Model(&events.DailyStat{}).Where("project_id = ?", project.ID).Count(&stats).Error)
	assert.Zero(t, stats)

	count, err = events.CountProjectEvents(db, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	list, err := projects.ListForUser(db, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
}
