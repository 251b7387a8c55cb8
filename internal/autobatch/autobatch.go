// Package autobatch implements the batch-formation policy: scan Enqueued
// tasks ordered by id, greedily extend a prefix of pairwise-compatible
// same-index tasks, and stop at the first incompatible one.
package autobatch

import "github.com/gcbaptista/go-search-engine/model"

// Selection is the outcome of one batch-formation pass: the ordered task
// ids chosen and a human-readable reason the batch stopped where it did.
type Selection struct {
	TaskIDs    []uint32
	StopReason string
}

// priorityOf ranks a task kind for picking which Enqueued task to seed the
// next batch with. Lower sorts first.
func priorityOf(kind model.TaskKind) int {
	switch kind {
	case model.KindIndexDelete:
		return 0
	case model.KindTaskCancel:
		return 1
	case model.KindTaskDelete:
		return 2
	case model.KindDumpCreate, model.KindSnapshotCreate:
		return 3
	case model.KindSettingsUpdate:
		return 4
	case model.KindDocumentAdd, model.KindDocumentDeleteByIds, model.KindDocumentDeleteByFilter, model.KindDocumentEdit:
		return 5
	case model.KindIndexUpdate:
		return 6
	case model.KindIndexCreate:
		return 7
	default:
		return 8
	}
}

// Next picks the next batch out of candidates, which must already be in
// ascending-id (registration) order. settingsRequiresReindex reports
// whether pairing a SettingsUpdate with a not-yet-applied DocumentAdd on
// the same index would force a reindex; callers typically wire this to
// config.IndexSettings.RequiresReindex.
func Next(candidates []model.Task, settingsRequiresReindex func(indexUID string) bool) Selection {
	if len(candidates) == 0 {
		return Selection{StopReason: "no enqueued tasks"}
	}

	seed := pickSeed(candidates)
	if seed.Kind.IsGlobalSolo() || seed.Kind.IsIndexSolo() {
		return Selection{TaskIDs: []uint32{seed.ID}, StopReason: soloReason(seed.Kind)}
	}

	var batch []uint32
	batch = append(batch, seed.ID)
	kinds := []model.TaskKind{seed.Kind}
	reason := "reached end of queue"

	for _, t := range candidates {
		if t.ID == seed.ID {
			continue
		}
		if t.IndexUID != seed.IndexUID {
			continue
		}
		if t.Kind.IsGlobalSolo() || t.Kind.IsIndexSolo() {
			reason = "next task on this index is solo"
			break
		}
		if !compatible(kinds, t.Kind, seed.IndexUID, settingsRequiresReindex) {
			reason = "incompatible kind " + string(t.Kind)
			break
		}
		batch = append(batch, t.ID)
		kinds = append(kinds, t.Kind)
	}

	return Selection{TaskIDs: batch, StopReason: reason}
}

func soloReason(kind model.TaskKind) string {
	if kind.IsGlobalSolo() {
		return "global-solo kind " + string(kind)
	}
	return "index-solo kind " + string(kind)
}

func pickSeed(candidates []model.Task) model.Task {
	best := candidates[0]
	bestPriority := priorityOf(best.Kind)
	for _, t := range candidates[1:] {
		if p := priorityOf(t.Kind); p < bestPriority {
			best = t
			bestPriority = p
		}
	}
	return best
}

// compatible reports whether a candidate task of kind next may join a
// batch whose kinds so far are soFar, on indexUID.
func compatible(soFar []model.TaskKind, next model.TaskKind, indexUID string, settingsRequiresReindex func(string) bool) bool {
	for _, existing := range soFar {
		if !pairwiseCompatible(existing, next, indexUID, settingsRequiresReindex) {
			return false
		}
	}
	return true
}

func pairwiseCompatible(a, b model.TaskKind, indexUID string, settingsRequiresReindex func(string) bool) bool {
	isDocKind := func(k model.TaskKind) bool {
		return k == model.KindDocumentAdd || k == model.KindDocumentDeleteByIds ||
			k == model.KindDocumentDeleteByFilter || k == model.KindDocumentEdit
	}

	switch {
	case a == model.KindDocumentAdd && b == model.KindDocumentAdd:
		return true
	case isDocKind(a) && isDocKind(b):
		return true
	case a == model.KindSettingsUpdate && b == model.KindSettingsUpdate:
		return true
	case a == model.KindSettingsUpdate && b == model.KindDocumentAdd, a == model.KindDocumentAdd && b == model.KindSettingsUpdate:
		if settingsRequiresReindex == nil {
			return false
		}
		return !settingsRequiresReindex(indexUID)
	default:
		return false
	}
}
