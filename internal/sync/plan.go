package sync

import (
	"iter"
	"path/filepath"
	"sort"
)

// pathSet is a materialized set of relative paths.
type pathSet map[string]struct{}

func collect(seq iter.Seq[string]) pathSet {
	set := make(pathSet)
	for rel := range seq {
		set[rel] = struct{}{}
	}
	return set
}

// BuildPlan computes the symmetric difference of the two relative path sets.
// Paths only in source are copied, paths only in dest are deleted, and paths
// present on both sides are left alone whatever their content.
func BuildPlan(source, dest iter.Seq[string], sourceRoot, destRoot string) *Plan {
	return planFromSets(collect(source), collect(dest), sourceRoot, destRoot)
}

func planFromSets(source, dest pathSet, sourceRoot, destRoot string) *Plan {
	plan := &Plan{
		Copy:   make([]Action, 0),
		Delete: make([]Action, 0),
	}

	for rel := range source {
		if _, exists := dest[rel]; exists {
			continue
		}
		plan.Copy = append(plan.Copy, Action{
			Kind:       ActionCopy,
			RelPath:    rel,
			SourcePath: filepath.Join(sourceRoot, rel),
			DestPath:   filepath.Join(destRoot, rel),
		})
	}

	for rel := range dest {
		if _, exists := source[rel]; exists {
			continue
		}
		plan.Delete = append(plan.Delete, Action{
			Kind:     ActionDelete,
			RelPath:  rel,
			DestPath: filepath.Join(destRoot, rel),
		})
	}

	// map order is random; sorted plans keep logs and dry runs reproducible
	sort.Slice(plan.Copy, func(i, j int) bool { return plan.Copy[i].RelPath < plan.Copy[j].RelPath })
	sort.Slice(plan.Delete, func(i, j int) bool { return plan.Delete[i].RelPath < plan.Delete[j].RelPath })

	return plan
}
