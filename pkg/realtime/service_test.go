package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgirmay/slidegenie-realtime/pkg/logging"
	"github.com/jgirmay/slidegenie-realtime/pkg/models"
	"github.com/jgirmay/slidegenie-realtime/pkg/repository"
)

type fakePresentations struct {
	byID map[string]*models.Presentation
	err  error
}

func (f *fakePresentations) Get(_ context.Context, id string) (*models.Presentation, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakePresentations) Create(_ context.Context, p *models.Presentation) error {
	f.byID[p.ID] = p
	return nil
}

func (f *fakePresentations) Update(_ context.Context, p *models.Presentation) error {
	f.byID[p.ID] = p
	return nil
}

func TestServiceAuthorizeJoin(t *testing.T) {
	repo := &fakePresentations{byID: map[string]*models.Presentation{
		"private": {ID: "private", OwnerID: "owner"},
		"public":  {ID: "public", OwnerID: "owner", IsPublic: true},
	}}
	svc := NewService(ServiceConf{Logger: logging.NewNop()}, repo, nil)
	ctx := context.Background()

	p, err := svc.AuthorizeJoin(ctx, "private", "owner")
	require.NoError(t, err)
	assert.Equal(t, "private", p.ID)

	_, err = svc.AuthorizeJoin(ctx, "private", "stranger")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.AuthorizeJoin(ctx, "public", "stranger")
	assert.NoError(t, err)

	_, err = svc.AuthorizeJoin(ctx, "missing", "owner")
	assert.ErrorIs(t, err, ErrPresentationNotFound)

	repo.err = errors.New("db down")
	_, err = svc.AuthorizeJoin(ctx, "public", "owner")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPresentationNotFound)
}

func TestServiceSubmitEditConflictWindow(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock)

	first, err := svc.SubmitEdit("P", models.EditOperation{
		Type: models.EditReplace, SlideID: "s1", ElementID: "e1", AuthorID: "A", AuthorName: "Alice",
	})
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, []string{}, first.Conflicts)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, clock.Now(), first.Timestamp)

	clock.Advance(5 * time.Second)
	second, err := svc.SubmitEdit("P", models.EditOperation{
		Type: models.EditReplace, SlideID: "s1", ElementID: "e1", AuthorID: "B",
	})
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, []string{"Concurrent edit on same element by Alice"}, second.Conflicts)

	clock.Advance(20 * time.Second)
	third, err := svc.SubmitEdit("P", models.EditOperation{
		Type: models.EditReplace, SlideID: "s1", ElementID: "e1", AuthorID: "C",
	})
	require.NoError(t, err)
	assert.True(t, third.Applied)

	assert.Len(t, svc.Collaboration.History("P"), 3, "conflicting operations are still recorded")
}

func TestServiceSubmitEditValidation(t *testing.T) {
	svc := newTestService(newFakeClock())
	_, err := svc.SubmitEdit("P", models.EditOperation{Type: "rotate", AuthorID: "A"})
	assert.ErrorIs(t, err, ErrInvalidEdit)
	_, err = svc.SubmitEdit("P", models.EditOperation{Type: models.EditInsert})
	assert.ErrorIs(t, err, ErrInvalidEdit)
	assert.Empty(t, svc.Collaboration.History("P"))
}

func TestServiceJobLifecycleNotifiesOwner(t *testing.T) {
	svc := newTestService(newFakeClock())
	owner := &fakeTransport{}
	svc.Notifications.Connect(owner, "owner", nil)
	watcher := &fakeTransport{}
	wid := svc.Generation.Connect(watcher, "owner", nil)
	require.NoError(t, svc.Generation.Subscribe(wid, "job-1"))

	require.NoError(t, svc.StartJob("job-1", "owner", "pdf"))
	started := owner.last(t, EventNotification)
	require.NotNil(t, started)
	assert.Equal(t, "Generation Started", started["title"])
	progress := watcher.last(t, EventJobProgress)
	require.NotNil(t, progress)
	assert.Equal(t, "queued", progress["data"].(map[string]interface{})["status"])

	require.NoError(t, svc.UpdateJobProgress("job-1", 0.5, "Parsing Document", "half", nil))
	require.NoError(t, svc.CompleteJob("job-1", map[string]interface{}{"presentation_id": "p1"}))

	done := owner.last(t, EventNotification)
	require.NotNil(t, done)
	assert.Equal(t, "Generation Complete", done["title"])
	assert.Equal(t, "success", done["notification_type"])
	assert.Equal(t, "high", done["priority"])

	assert.ErrorIs(t, svc.UpdateJobProgress("job-1", 0.7, "x", "", nil), ErrJobFinished)
	assert.Len(t, watcher.messages(t), 3)
}

func TestServiceFailJob(t *testing.T) {
	svc := newTestService(newFakeClock())
	owner := &fakeTransport{}
	svc.Notifications.Connect(owner, "owner", nil)

	require.NoError(t, svc.StartJob("job-2", "owner", "pdf"))
	require.NoError(t, svc.FailJob("job-2", "bad file", map[string]interface{}{"page": 3}))

	ev := owner.last(t, EventNotification)
	require.NotNil(t, ev)
	assert.Equal(t, "Generation Failed", ev["title"])
	assert.Equal(t, "Presentation generation failed: bad file", ev["message"])
	data := ev["data"].(map[string]interface{})
	assert.Equal(t, "bad file", data["error"])
	assert.NotNil(t, data["error_details"])
}

func TestServiceCancelJobIsSilent(t *testing.T) {
	svc := newTestService(newFakeClock())
	owner := &fakeTransport{}
	svc.Notifications.Connect(owner, "owner", nil)

	require.NoError(t, svc.StartJob("job-3", "owner", "pdf"))
	owner.reset()
	require.NoError(t, svc.CancelJob("job-3", "user request"))
	assert.Empty(t, owner.messages(t))

	snap, ok := svc.Generation.Snapshot("job-3")
	require.True(t, ok)
	assert.Equal(t, models.JobCancelled, snap.Status)
}

func TestServiceHooksArePanicIsolated(t *testing.T) {
	svc := newTestService(newFakeClock())
	var mu sync.Mutex
	var seen []float64
	svc.OnJobProgress(func(models.JobProgress) { panic("boom") })
	svc.OnJobProgress(func(p models.JobProgress) {
		mu.Lock()
		seen = append(seen, p.Progress)
		mu.Unlock()
	})
	var edits int
	svc.OnCollaborationEvent(func(ev CollaborationEvent) {
		assert.Equal(t, EventEditOperation, ev.Type)
		edits++
	})

	require.NoError(t, svc.StartJob("job", "", "pdf"))
	require.NoError(t, svc.UpdateJobProgress("job", 0.25, "step", "", nil))
	_, err := svc.SubmitEdit("P", models.EditOperation{Type: models.EditInsert, AuthorID: "A"})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0.25}, seen)
	assert.Equal(t, 1, edits)
}

func TestServiceNotifyPresentationUpdate(t *testing.T) {
	svc := newTestService(newFakeClock())
	author, other := &fakeTransport{}, &fakeTransport{}
	svc.Notifications.Connect(author, "A", nil)
	svc.Notifications.Connect(other, "B", nil)

	n := svc.NotifyPresentationUpdate("p1", "Deck", "content", "A", []string{"A", "B"})
	assert.Equal(t, 1, n)
	assert.Empty(t, author.messages(t))
	ev := other.last(t, EventNotification)
	require.NotNil(t, ev)
	assert.Equal(t, "'Deck' has been updated", ev["message"])
	assert.Equal(t, "/presentations/p1", ev["action_url"])
}

func TestServiceSystemHealth(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock)
	svc.Generation.Connect(&fakeTransport{}, "a", nil)
	svc.Notifications.Connect(&fakeTransport{}, "a", nil)
	c := svc.Collaboration.Connect(&fakeTransport{}, "b", nil)
	require.NoError(t, svc.Collaboration.Join(c, "P", Identity{UserID: "b"}))
	clock.Advance(time.Minute)

	h := svc.SystemHealth(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 3, h.TotalConnections)
	assert.Equal(t, 60.0, h.UptimeSeconds)
	assert.Equal(t, 1, h.Connections["collaboration"].ActiveConnections)
	assert.Equal(t, 1, h.Collaboration.Sessions)
	assert.Equal(t, 2, h.Notifications.Channels)
}

func TestServiceCleanupStaleData(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock)
	ctx := context.Background()

	c := svc.Collaboration.Connect(&fakeTransport{}, "a", nil)
	require.NoError(t, svc.Collaboration.Join(c, "P", Identity{UserID: "a"}))
	ok, err := svc.Collaboration.LockSlide(ctx, "P", "s1", Identity{UserID: "a"}, "edit")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = svc.SubmitEdit("P", models.EditOperation{Type: models.EditInsert, AuthorID: "a"})
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	r, err := svc.CleanupStaleData(ctx)
	require.NoError(t, err)
	assert.Equal(t, CleanupReport{ExpiredLocks: 1, StalePresence: 1, TrimmedEdits: 1}, r)
	assert.True(t, svc.Collaboration.Has(c), "cleanup does not close connections")
}

func TestServiceShutdownClosesEverything(t *testing.T) {
	svc := newTestService(newFakeClock())
	trs := []*fakeTransport{{}, {}, {}}
	svc.Generation.Connect(trs[0], "a", nil)
	svc.Collaboration.Connect(trs[1], "a", nil)
	svc.Notifications.Connect(trs[2], "a", nil)

	svc.Shutdown()
	for _, tr := range trs {
		assert.True(t, tr.isClosed())
	}
	assert.Equal(t, 0, svc.SystemHealth(context.Background()).TotalConnections)
}

func TestJobReporterPhases(t *testing.T) {
	svc := newTestService(newFakeClock())
	var seen []models.JobProgress
	svc.OnJobProgress(func(p models.JobProgress) { seen = append(seen, p) })

	r := svc.Reporter("job")
	require.NoError(t, r.Start("", "pdf"))
	require.NoError(t, r.Parsing(0.5, "reading"))
	require.NoError(t, r.Extraction(1, map[string]int{"text": 5, "images": 2}))
	require.NoError(t, r.SlidesStarted(10))
	require.NoError(t, r.SlideGenerated(5, 10, "Intro"))
	require.NoError(t, r.Finalizing("packing"))
	require.NoError(t, r.Complete("p1", 10))

	require.Len(t, seen, 7)
	want := []float64{0, 0.15, 0.6, 0.6, 0.75, 0.95, 1.0}
	for i, w := range want {
		assert.InDelta(t, w, seen[i].Progress, 1e-9, "phase %d", i)
	}
	assert.Equal(t, "Extracted: 2 images, 5 text", seen[2].Message)
	assert.Equal(t, "Generated slide 5/10: Intro", seen[4].Message)
	assert.Equal(t, 10, seen[6].Result["slide_count"])

	assert.ErrorIs(t, r.Fail(errors.New("late")), ErrJobFinished)
}
