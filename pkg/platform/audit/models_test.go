package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionCategory(t *testing.T) {
	assert.Equal(t, CategoryCompliance, ActionJournalPosted.Category())
	assert.Equal(t, CategorySecurity, ActionLoginFailed.Category())
	assert.Equal(t, CategoryOperations, Action("something.new").Category())
}

func TestFilterMatches(t *testing.T) {
	now := time.Date(2024, 6, 30, 10, 0, 0, 0, time.UTC)
	e := Event{
		Category:   CategoryCompliance,
		Action:     ActionLoanDisbursed,
		EntityType: "loan",
		EntityID:   "L1",
		Timestamp:  now,
	}

	assert.True(t, Filter{}.Matches(e))
	assert.True(t, Filter{Action: ActionLoanDisbursed, EntityID: "L1"}.Matches(e))
	assert.False(t, Filter{EntityType: "deposit"}.Matches(e))
	assert.False(t, Filter{Since: now.Add(time.Minute)}.Matches(e))
	assert.False(t, Filter{Category: CategorySecurity}.Matches(e))
}
