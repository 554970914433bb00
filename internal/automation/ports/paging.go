package ports

import (
	"context"

	"pipeline_backend/internal/automation/domain"
)

// EachPage walks ListOpenLeads in creation order, at most maxPages pages of
// filter.Limit leads, and hands every non-empty page to fn. The walk resumes
// after the last lead read rather than at an offset, so leads that drop out of
// the filter while fn runs never shift later pages. more reports that the last
// page was full and leads may remain.
func EachPage(ctx context.Context, reader LeadReader, filter LeadFilter, maxPages int, fn func([]domain.Lead) error) (more bool, err error) {
	if maxPages < 1 {
		maxPages = 1
	}
	if filter.Limit < 1 {
		filter.Limit = DefaultLeadLimit
	}
	filter.Offset = 0

	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		leads, err := reader.ListOpenLeads(ctx, filter)
		if err != nil {
			return false, err
		}
		if len(leads) > 0 {
			if err := fn(leads); err != nil {
				return false, err
			}
		}
		if len(leads) < filter.Limit {
			return false, nil
		}
		filter.After = CursorAfter(leads[len(leads)-1])
	}
	return true, nil
}
