package changereq

import (
	"context"
	"log/slog"
	"strings"

	"github.com/calyx-catalog/calyx/internal/authz"
)

// QueueItem is one approval-queue row, decorated with the computed
// review bar and whether the viewing reviewer can decide it in place.
type QueueItem struct {
	Request        ChangeRequest `json:"request"`
	RequiredLevel  int           `json:"required_level"`
	RequiredLabel  string        `json:"required_label"`
	CanQuickDecide bool          `json:"can_quick_decide"`
}

// QueuePage is a filtered queue plus the suggested next item to review.
type QueuePage struct {
	Items []QueueItem `json:"items"`
	// NextCandidate is the first quick-decidable item, or the first item
	// when none is quick-decidable. Nil for an empty queue.
	NextCandidate *QueueItem `json:"next_candidate,omitempty"`
}

// QueueView materializes the approval queue for one reviewer.
type QueueView struct {
	repo     Repository
	resolver *authz.Resolver
	vendors  VendorDirectory
	logger   *slog.Logger
}

// NewQueueView constructs a QueueView.
func NewQueueView(repo Repository, resolver *authz.Resolver, vendors VendorDirectory, logger *slog.Logger) *QueueView {
	return &QueueView{repo: repo, resolver: resolver, vendors: vendors, logger: logger}
}

// Queue lists requests matching the filter, decorated for the reviewer
// described by snap. Defaults: submitted rows only, the "all" queue.
func (v *QueueView) Queue(ctx context.Context, snap *authz.PolicySnapshot, f Filter) (QueuePage, error) {
	if f.Status == "" {
		f.Status = string(StatusSubmitted)
	}
	if f.Queue == "" {
		f.Queue = QueueAll
	}
	reqs, err := v.repo.List(ctx, f)
	if err != nil {
		return QueuePage{}, err
	}

	catalog := v.resolver.Catalog()
	var items []QueueItem
	for _, req := range reqs {
		if !matchLOB(req, f.LOB) || !matchSearch(req, f.Search) {
			continue
		}
		required := req.RequiredLevel(catalog)
		item := QueueItem{
			Request:       req,
			RequiredLevel: required,
			RequiredLabel: authz.FormatLevelLabel(required),
		}
		if snap != nil {
			levelOK := v.resolver.CanReviewChange(snap.Record, required)
			scopeOK, err := v.scopeOK(ctx, snap, req)
			if err != nil {
				// One row whose vendor no longer resolves must not take the
				// whole listing down: the row stays visible but is never
				// offered for one-click decision.
				v.logger.Warn("queue scope check",
					slog.String("id", req.ID.String()),
					slog.String("vendor_scope", req.VendorScope),
					slog.Any("error", err))
				if f.Queue == QueueMyApprovals {
					continue
				}
			} else {
				// Requests the reviewer submitted themselves stay visible but
				// are not offered for one-click decision unless scope holds.
				item.CanQuickDecide = levelOK && (scopeOK || snap.Principal != req.Requestor)
				if f.Queue == QueueMyApprovals {
					if !levelOK || !scopeOK || snap.Principal == req.Requestor {
						continue
					}
				}
			}
		} else if f.Queue == QueueMyApprovals {
			continue
		}
		items = append(items, item)
	}

	page := QueuePage{Items: items}
	for i := range items {
		if items[i].CanQuickDecide {
			page.NextCandidate = &items[i]
			break
		}
	}
	if page.NextCandidate == nil && len(items) > 0 {
		page.NextCandidate = &items[0]
	}
	return page, nil
}

func (v *QueueView) scopeOK(ctx context.Context, snap *authz.PolicySnapshot, req ChangeRequest) (bool, error) {
	if req.GlobalScope() {
		return true, nil
	}
	ownerOrg, offeringLOBs, err := v.vendors.VendorOrgs(ctx, req.VendorScope)
	if err != nil {
		return false, err
	}
	lobs := append(append([]string(nil), offeringLOBs...), req.Meta.LOBs...)
	return snap.HasVendorLevelScope(ownerOrg, lobs, authz.ScopeEdit), nil
}

func matchLOB(req ChangeRequest, lob string) bool {
	if lob == "" {
		return true
	}
	for _, candidate := range req.Meta.LOBs {
		if strings.EqualFold(candidate, lob) {
			return true
		}
	}
	return false
}

func matchSearch(req ChangeRequest, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	haystacks := []string{req.ChangeType, req.VendorScope, req.Requestor, req.Assignee, req.Notes}
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), term) {
			return true
		}
	}
	return false
}
