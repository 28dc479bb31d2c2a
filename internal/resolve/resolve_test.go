package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clintrovert/excelsior/pkg/types"
)

var roster = []types.TeamMember{
	{Name: "John Doe", Email: "john.doe@x.com"},
	{Name: "Jane Doe", Email: "jane.doe@x.com"},
	{Name: "Priya Sharma", Email: "priya@x.com"},
}

func TestResolveNameStrict(t *testing.T) {
	res := ResolveName("john", roster, true)
	require.Equal(t, Resolved, res.Kind)
	assert.Equal(t, "john.doe@x.com", res.Email)
}

func TestResolveNameEmailPassthrough(t *testing.T) {
	res := ResolveName("someone@else.com", roster, true)
	require.Equal(t, Resolved, res.Kind)
	assert.Equal(t, "someone@else.com", res.Email)
}

func TestResolveNameNotFoundListsCandidates(t *testing.T) {
	res := ResolveName("xyz", roster, true)
	require.Equal(t, NotFound, res.Kind)
	desc := res.Describe("xyz")
	assert.Contains(t, desc, "John Doe")
	assert.Contains(t, desc, "Priya Sharma")
}

func TestResolveNameNonStrictFallsBack(t *testing.T) {
	res := ResolveName("xyz", roster, false)
	require.Equal(t, Resolved, res.Kind)
	assert.Equal(t, "xyz", res.Email)
}

func TestResolveNameAmbiguous(t *testing.T) {
	res := ResolveName("doe", roster, true)
	require.Equal(t, Ambiguous, res.Kind)
	assert.Len(t, res.Candidates, 2)
	assert.Contains(t, res.Describe("doe"), "Jane Doe")
}

func TestResolveNameMultiTokenRequiresAll(t *testing.T) {
	res := ResolveName("jane doe", roster, true)
	require.Equal(t, Resolved, res.Kind)
	assert.Equal(t, "jane.doe@x.com", res.Email)
}

func TestResolveNameRelaxesToAnyToken(t *testing.T) {
	// No candidate matches every token, so matching relaxes to any-token.
	res := ResolveName("priya nosuchword", roster, true)
	require.Equal(t, Resolved, res.Kind)
	assert.Equal(t, "priya@x.com", res.Email)
}

func TestResolveNameIsPure(t *testing.T) {
	first := ResolveName("john", roster, true)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ResolveName("john", roster, true))
	}
}

func TestValidateSprintIDs(t *testing.T) {
	sprints := []types.Sprint{{ID: 1001}, {ID: 1002}}

	require.NoError(t, ValidateSprintIDs([]int{1001, 1002}, sprints))

	err := ValidateSprintIDs([]int{1001, 4444, 5555}, sprints)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4444")
	assert.Contains(t, err.Error(), "5555")
	assert.NotContains(t, err.Error(), "1001")
}

func TestParseSprintRef(t *testing.T) {
	sprints := []types.Sprint{
		{ID: 1001, Name: "Alpha Sprint 7"},
		{ID: 1002, Name: "Sprint 8"},
	}

	id, err := ParseSprintRef(7, sprints)
	require.NoError(t, err)
	assert.Equal(t, 1001, id)

	id, err = ParseSprintRef(1002, sprints)
	require.NoError(t, err)
	assert.Equal(t, 1002, id)

	_, err = ParseSprintRef(99, sprints)
	assert.Error(t, err)

	_, err = ParseSprintRef(9999, sprints)
	assert.Error(t, err)
}

func TestActiveSprint(t *testing.T) {
	sprints := []types.Sprint{
		{ID: 1, State: "closed"},
		{ID: 2, State: "active"},
		{ID: 3, State: "future"},
	}

	active, ok := ActiveSprint(sprints)
	require.True(t, ok)
	assert.Equal(t, 2, active.ID)

	_, ok = ActiveSprint([]types.Sprint{{ID: 1, State: "closed"}})
	assert.False(t, ok)
}
