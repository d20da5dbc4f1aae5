package change

import (
	"strings"

	"github.com/rcowham/replicant/internal/observer"
	"github.com/rcowham/replicant/internal/path"
	"github.com/rcowham/replicant/internal/value"
)

// FromRaw normalizes the Deep Observer's raw, "/"-separated change
// stream into the Change Codec's tagged, dotted-path record shape
// (spec.md §4.1/§4.3). after is the post-edit value, used to recover
// the concrete elements a splice inserted (the raw form only carries
// a count).
func FromRaw(after value.Value, raws []observer.RawChange) []Change {
	out := make([]Change, 0, len(raws))
	for _, rc := range raws {
		dotted := dottedPath(rc.Path)
		switch rc.Type {
		case "add":
			newVal, _ := path.Get(after, path.Parse(dotted))
			out = append(out, Change{Type: Add, Path: dotted, NewValue: newVal})
		case "update":
			newVal, _ := path.Get(after, path.Parse(dotted))
			out = append(out, Change{Type: Update, Path: dotted, OldValue: rc.OldValue, NewValue: newVal})
		case "delete":
			out = append(out, Change{Type: Delete, Path: dotted, OldValue: rc.OldValue})
		case "splice":
			seqAfter, _ := path.Get(after, path.Parse(dotted))
			added := observer.AddedAt(seqAfter, rc)
			out = append(out, Change{
				Type:         Splice,
				Path:         dotted,
				Index:        rc.Index,
				Removed:      rc.Removed,
				RemovedCount: len(rc.Removed),
				Added:        added,
				AddedCount:   len(added),
			})
		}
	}
	return out
}

func dottedPath(slashPath string) string {
	trimmed := strings.TrimPrefix(slashPath, "/")
	return strings.ReplaceAll(trimmed, "/", ".")
}
