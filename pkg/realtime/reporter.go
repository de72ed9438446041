package realtime

import (
	"fmt"
	"sort"
	"strings"
)

// JobReporter maps the phases of presentation generation onto one progress
// scale: parsing up to 30%, extraction 30-60%, slide generation 60-90%,
// finalization at 95%.
type JobReporter struct {
	svc   *Service
	jobID string
}

// Reporter returns a JobReporter for jobID.
func (s *Service) Reporter(jobID string) *JobReporter {
	return &JobReporter{svc: s, jobID: jobID}
}

func (r *JobReporter) Start(ownerID, jobType string) error {
	return r.svc.StartJob(r.jobID, ownerID, jobType)
}

func (r *JobReporter) Parsing(fraction float64, message string) error {
	return r.svc.UpdateJobProgress(r.jobID, 0.3*clamp01(fraction), "Parsing Document", message, nil)
}

// Extraction reports content extraction with per-kind element counts.
func (r *JobReporter) Extraction(fraction float64, elements map[string]int) error {
	parts := make([]string, 0, len(elements))
	for _, kind := range sortedKeys(elements) {
		parts = append(parts, fmt.Sprintf("%d %s", elements[kind], kind))
	}
	msg := "Extracted: " + strings.Join(parts, ", ")
	return r.svc.UpdateJobProgress(r.jobID, 0.3+0.3*clamp01(fraction), "Extracting Content", msg, nil)
}

func (r *JobReporter) SlidesStarted(total int) error {
	return r.svc.UpdateJobProgress(r.jobID, 0.6, "Generating Slides", fmt.Sprintf("Generating %d slides", total), nil)
}

func (r *JobReporter) SlideGenerated(n, total int, title string) error {
	fraction := 1.0
	if total > 0 {
		fraction = clamp01(float64(n) / float64(total))
	}
	msg := fmt.Sprintf("Generated slide %d/%d: %s", n, total, title)
	return r.svc.UpdateJobProgress(r.jobID, 0.6+0.3*fraction, "Generating Slides", msg, nil)
}

func (r *JobReporter) Finalizing(message string) error {
	return r.svc.UpdateJobProgress(r.jobID, 0.95, "Finalizing", message, nil)
}

func (r *JobReporter) Complete(presentationID string, slideCount int) error {
	return r.svc.CompleteJob(r.jobID, map[string]interface{}{
		"presentation_id": presentationID,
		"slide_count":     slideCount,
	})
}

func (r *JobReporter) Fail(err error) error {
	return r.svc.FailJob(r.jobID, err.Error(), nil)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
