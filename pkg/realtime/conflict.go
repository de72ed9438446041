package realtime

import (
	"fmt"
	"math"
	"time"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

// ConflictPolicy holds the thresholds for edit arbitration.
type ConflictPolicy struct {
	Window       time.Duration
	Distance     float64
	LineDistance int
}

// DefaultConflictPolicy returns the 10s / 50 units / 1 line policy.
func DefaultConflictPolicy() ConflictPolicy {
	return ConflictPolicy{Window: 10 * time.Second, Distance: 50, LineDistance: 1}
}

// DetectConflicts compares op with the recent history of its presentation
// and returns one description per contending operation by another author.
func DetectConflicts(history []models.EditOperation, op models.EditOperation, policy ConflictPolicy, now time.Time) []string {
	var conflicts []string
	for i := range history {
		r := &history[i]
		if r.AuthorID == op.AuthorID {
			continue
		}
		if now.Sub(r.Timestamp) > policy.Window {
			continue
		}
		if op.SlideID == "" || r.SlideID != op.SlideID {
			continue
		}

		switch {
		case op.ElementID != "" && r.ElementID == op.ElementID:
			conflicts = append(conflicts, fmt.Sprintf("Concurrent edit on same element by %s", authorLabel(r)))
		case positionsOverlap(r.Position, op.Position, policy):
			conflicts = append(conflicts, fmt.Sprintf("Overlapping edit position with %s", authorLabel(r)))
		}
	}
	return conflicts
}

func positionsOverlap(a, b *models.Position, policy ConflictPolicy) bool {
	if a.HasLine() && b.HasLine() {
		d := *a.Line - *b.Line
		if d < 0 {
			d = -d
		}
		return d <= policy.LineDistance
	}
	if a.HasPoint() && b.HasPoint() {
		return math.Hypot(*a.X-*b.X, *a.Y-*b.Y) < policy.Distance
	}
	return false
}

func authorLabel(op *models.EditOperation) string {
	if op.AuthorName != "" {
		return op.AuthorName
	}
	return op.AuthorID
}
