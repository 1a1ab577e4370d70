package cloudsync

import "github.com/fyrean/genstudio/types"

// MergeProjects unions two galleries. Projects match by id; within a matched
// project, jobs union by id with the local copy winning any id collision.
// Local ordering is preserved, cloud-only projects and jobs append after in
// cloud order. The result is deterministic for a given input pair.
func MergeProjects(local, cloud []*types.Project) []*types.Project {
	merged := make([]*types.Project, 0, len(local)+len(cloud))
	index := make(map[string]*types.Project, len(local))

	for _, p := range local {
		clone := p.Clone()
		merged = append(merged, clone)
		index[clone.ID] = clone
	}

	for _, cp := range cloud {
		lp, ok := index[cp.ID]
		if !ok {
			clone := cp.Clone()
			merged = append(merged, clone)
			index[clone.ID] = clone
			continue
		}
		seen := make(map[string]bool, len(lp.Jobs))
		for _, j := range lp.Jobs {
			seen[j.ID] = true
		}
		for _, j := range cp.Jobs {
			if !seen[j.ID] {
				lp.Jobs = append(lp.Jobs, j.Clone())
			}
		}
	}
	return merged
}
