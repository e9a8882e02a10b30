package queryir

import "github.com/roach88/replica/internal/record"

// Page is one page of a find result.
//
// Total counts every record matching the filter, ignoring $skip and $limit.
// Limit is the page size that was applied; for unpaginated results without
// $limit it equals len(Data).
type Page struct {
	Total int             `json:"total"`
	Limit int             `json:"limit"`
	Skip  int             `json:"skip"`
	Data  []record.Record `json:"data"`
}

// Paginate configures server-side paging. The zero value disables paging:
// results hold every match unless the query carries $limit.
type Paginate struct {
	Default int `yaml:"default" json:"default"`
	Max     int `yaml:"max" json:"max"`
}

// Enabled reports whether paging applies when a query has no $limit.
func (p Paginate) Enabled() bool {
	return p.Default > 0 || p.Max > 0
}

// EffectiveLimit returns the page size for q and whether one applies.
//
//   - explicit $limit: used, clamped to Max when Max is set
//   - no $limit, paging enabled: Default (or Max when Default is unset)
//   - no $limit, paging disabled: no limit
func (p Paginate) EffectiveLimit(q Query) (int, bool) {
	if q.Limit != nil {
		n := *q.Limit
		if p.Max > 0 && n > p.Max {
			n = p.Max
		}
		return n, true
	}
	if !p.Enabled() {
		return 0, false
	}
	n := p.Default
	if n == 0 || (p.Max > 0 && n > p.Max) {
		n = p.Max
	}
	return n, true
}
