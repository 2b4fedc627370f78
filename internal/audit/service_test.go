package audit

import (
	"context"
	"testing"
	"time"
)

type stubTimelineRepo struct {
	rows       []TimelineRow
	lastOffset int
	lastLimit  int
	lastFilter TimelineFilters
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	s.lastFilter = f
	s.lastOffset = offset
	s.lastLimit = limit
	if len(s.rows) > limit {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func mockRow(at string, actor, action string) TimelineRow {
	t, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: t, Actor: actor, Action: action, Entity: "change_request", EntityID: "1"}
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		mockRow("2026-08-20T10:00:00Z", "pat", "decide_change_request"),
		mockRow("2026-08-19T09:00:00Z", "casey", "submit_change_request"),
		mockRow("2026-08-18T08:00:00Z", "root", "grant_scope"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext {
		t.Fatalf("expected hasNext true")
	}
	if repo.lastLimit != 3 {
		t.Fatalf("expected over-fetch limit 3, got %d", repo.lastLimit)
	}
	if repo.lastOffset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastOffset)
	}
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	if _, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != 51 {
		t.Fatalf("expected clamped limit 51, got %d", repo.lastLimit)
	}
}

func TestTimelineSecondPageOffset(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{mockRow("2026-08-18T08:00:00Z", "root", "grant_scope")}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 10})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastOffset != 20 {
		t.Fatalf("expected offset 20, got %d", repo.lastOffset)
	}
	if result.Paging.PrevPage != 2 {
		t.Fatalf("expected prev page 2, got %d", result.Paging.PrevPage)
	}
	if result.Paging.HasNext {
		t.Fatalf("expected hasNext false")
	}
}
