package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"time"
)

// ExportTimeline renders the full filtered timeline as CSV. Paging
// fields in the filters are ignored; the export walks every page.
func (s *Service) ExportTimeline(ctx context.Context, filters TimelineFilters) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"at", "actor", "action", "entity", "entity_id"}); err != nil {
		return nil, err
	}

	filters.PageSize = 50
	for page := 1; ; page++ {
		filters.Page = page
		result, err := s.Timeline(ctx, filters)
		if err != nil {
			return nil, err
		}
		for _, row := range result.Rows {
			record := []string{
				row.At.Format(time.RFC3339),
				row.Actor,
				row.Action,
				row.Entity,
				row.EntityID,
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
		if !result.Paging.HasNext {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
