package cloudsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrean/genstudio/types"
)

func project(id, name string, jobIDs ...string) *types.Project {
	p := &types.Project{ID: id, Name: name}
	for _, jid := range jobIDs {
		p.Jobs = append(p.Jobs, &types.GenerationJob{
			ID: jid, Kind: types.KindImage, Status: types.StatusCompleted, ResultURI: name + "/" + jid,
		})
	}
	return p
}

func TestMergeUnionsJobsLocalWins(t *testing.T) {
	local := []*types.Project{project("1", "local", "a", "b")}
	cloud := []*types.Project{project("1", "cloud", "b", "c")}

	merged := MergeProjects(local, cloud)
	require.Len(t, merged, 1)

	// The local copy of the project record wins, including its name.
	assert.Equal(t, "local", merged[0].Name)

	var ids []string
	for _, j := range merged[0].Jobs {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	// Colliding job id keeps the local record.
	assert.Equal(t, "local/b", merged[0].Jobs[1].ResultURI)
}

func TestMergeAppendsCloudOnlyProjects(t *testing.T) {
	local := []*types.Project{project("1", "one", "a")}
	cloud := []*types.Project{project("2", "two", "x"), project("3", "three")}

	merged := MergeProjects(local, cloud)
	require.Len(t, merged, 3)
	assert.Equal(t, "1", merged[0].ID)
	assert.Equal(t, "2", merged[1].ID)
	assert.Equal(t, "3", merged[2].ID)
}

func TestMergeIsDeterministic(t *testing.T) {
	local := []*types.Project{project("1", "a", "j1", "j2"), project("2", "b", "j3")}
	cloud := []*types.Project{project("2", "b2", "j3", "j4"), project("9", "c", "j9")}

	first := MergeProjects(local, cloud)
	second := MergeProjects(local, cloud)
	assert.True(t, projectsEqual(first, second), "same inputs must merge identically")
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	local := []*types.Project{project("1", "a", "j1")}
	cloud := []*types.Project{project("1", "a", "j2")}

	merged := MergeProjects(local, cloud)
	merged[0].Jobs[0].ResultURI = "mutated"
	assert.Equal(t, "a/j1", local[0].Jobs[0].ResultURI, "merge output must be detached from inputs")
}

func TestMergeEmptySides(t *testing.T) {
	cloud := []*types.Project{project("1", "a", "j1")}
	merged := MergeProjects(nil, cloud)
	require.Len(t, merged, 1)
	assert.Equal(t, "j1", merged[0].Jobs[0].ID)

	merged = MergeProjects(cloud, nil)
	require.Len(t, merged, 1)
}
