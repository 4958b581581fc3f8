package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/events"
	"tally/internal/pkg/validation"
	"tally/internal/testsupport"
)

func TestWipeProjectEvents(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")
	project := testsupport.CreateTestProject(t, db, user.ID, "example.com")
	other := testsupport.CreateTestProject(t, db, user.ID, "other.com")

	for i := 0; i < 4; i++ {
		testsupport.SeedEvent(t, db, project.ID, testsupport.EventSeed{})
	}
	testsupport.SeedEvent(t, db, other.ID, testsupport.EventSeed{})
	testsupport.SeedDailyStat(t, db, project.ID, "2024-03-10", "/", 4, 1)

	t.Run("wrong confirmation deletes nothing", func(t *testing.T) {
		for _, phrase := range []string{"", "Delete the logs", "delete the logs ", "yes"} {
			n, err := events.WipeProjectEvents(db, logger, project.ID, phrase)
			assert.ErrorIs(t, err, events.ErrConfirmationMismatch)
			assert.True(t, validation.Is(err))
			assert.Zero(t, n)
		}

		count, err := events.CountProjectEvents(db, project.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})

	t.Run("exact phrase wipes only this project's events", func(t *testing.T) {
		n, err := events.WipeProjectEvents(db, logger, project.ID, events.DeleteConfirmation)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)

		count, err := events.CountProjectEvents(db, project.ID)
		require.NoError(t, err)
		assert.Zero(t, count)

		count, err = events.CountProjectEvents(db, other.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		var stats int64
		require.NoError(t, db.Model(&events.DailyStat{}).Where("project_id = ?", project.ID).Count(&stats).Error)
		assert.Equal(t, int64(1), stats)
	})
}

func TestDeleteEventsBefore(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")
	project := testsupport.CreateTestProject(t, db, user.ID, "example.com")

	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		testsupport.SeedEvent(t, db, project.ID, testsupport.EventSeed{CreatedAt: cutoff.Add(-time.Duration(i+1) * time.Hour)})
	}
	for i := 0; i < 3; i++ {
		testsupport.SeedEvent(t, db, project.ID, testsupport.EventSeed{CreatedAt: cutoff.Add(time.Duration(i) * time.Hour)})
	}

	// A batch size smaller than the backlog exercises the loop.
	n, err := events.DeleteEventsBefore(db, cutoff, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	count, err := events.CountProjectEvents(db, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	n, err = events.DeleteEventsBefore(db, cutoff, 3)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteProjectData(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")
	project := testsupport.CreateTestProject(t, db, user.ID, "example.com")
	other := testsupport.CreateTestProject(t, db, user.ID, "other.com")

	for _, id := range []string{project.ID, other.ID} {
		testsupport.SeedEvent(t, db, id, testsupport.EventSeed{})
		testsupport.SeedDailyStat(t, db, id, "2024-03-10", "/", 1, 1)
		require.NoError(t, events.BumpDailyStat(db, events.BumpInput{
			ProjectID: id, Date: "2024-03-11", Page: "/", SessionID: "s1", SessionAware: true,
		}))
	}

	require.NoError(t, events.DeleteProjectData(db, project.ID))

	for _, model := range []any{&events.Event{}, &events.DailyStat{}, &events.DailyVisitor{}} {
		var mine, theirs int64
		require.NoError(t, db.Model(model).Where("project_id = ?", project.ID).Count(&mine).Error)
		require.NoError(t, db.Model(model).Where("project_id = ?", other.ID).Count(&theirs).Error)
		assert.Zero(t, mine)
		assert.NotZero(t, theirs)
	}
}
