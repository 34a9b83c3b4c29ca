package agenthooks

import (
	"sort"

	"github.com/ollm-core/agentcore/pkg/models"
)

// Plan produces the execution order for an event's hooks: grouped by
// source priority class (builtin > user > workspace > downloaded), with
// registration order preserved within a class. sort.SliceStable is used
// so ties on priority never reorder hooks the registry already ordered.
func Plan(hooks []models.Hook) []models.Hook {
	planned := make([]models.Hook, len(hooks))
	copy(planned, hooks)

	sort.SliceStable(planned, func(i, j int) bool {
		return planned[i].Source.SourcePriority() < planned[j].Source.SourcePriority()
	})
	return planned
}
