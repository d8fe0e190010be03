package alerts

import "coldwatch/internal/models"

// CameraDiff compares the camera labels alerting now with the previous scan
type CameraDiff struct {
	New      []string
	Resolved []string
	// Current is the snapshot to persist; empty means clear it.
	Current []string
}

// Changed reports whether any camera appeared or cleared
func (d CameraDiff) Changed() bool {
	return len(d.New) > 0 || len(d.Resolved) > 0
}

// DiffCameras computes new = current \ previous and resolved = previous \ current
func DiffCameras(previous []string, current []models.CameraDisconnect) CameraDiff {
	prev := make(map[string]struct{}, len(previous))
	for _, l := range previous {
		prev[l] = struct{}{}
	}

	diff := CameraDiff{Current: make([]string, 0, len(current))}
	cur := make(map[string]struct{}, len(current))
	for _, c := range current {
		if _, dup := cur[c.Label]; dup {
			continue
		}
		cur[c.Label] = struct{}{}
		diff.Current = append(diff.Current, c.Label)
		if _, ok := prev[c.Label]; !ok {
			diff.New = append(diff.New, c.Label)
		}
	}
	for _, l := range previous {
		if _, ok := cur[l]; !ok {
			diff.Resolved = append(diff.Resolved, l)
		}
	}
	return diff
}
