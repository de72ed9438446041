package realtime

import "github.com/jgirmay/slidegenie-realtime/pkg/models"

// notificationRing is a fixed-capacity circular history. The newest entry
// overwrites the oldest once full. Callers synchronize access.
type notificationRing struct {
	entries  []models.Notification
	next     int
	count    int
	capacity int
}

func newNotificationRing(capacity int) *notificationRing {
	return &notificationRing{entries: make([]models.Notification, capacity), capacity: capacity}
}

func (r *notificationRing) push(n models.Notification) {
	r.entries[r.next] = n
	r.next = (r.next + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// at returns the i-th stored entry, oldest first.
func (r *notificationRing) at(i int) *models.Notification {
	start := (r.next - r.count + r.capacity) % r.capacity
	return &r.entries[(start+i)%r.capacity]
}

func (r *notificationRing) len() int { return r.count }

// last returns up to n newest entries matching keep, oldest first.
func (r *notificationRing) last(n int, keep func(*models.Notification) bool) []models.Notification {
	if n <= 0 {
		return nil
	}
	var rev []models.Notification
	for i := r.count - 1; i >= 0 && len(rev) < n; i-- {
		e := r.at(i)
		if keep == nil || keep(e) {
			rev = append(rev, *e)
		}
	}
	out := make([]models.Notification, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out
}
