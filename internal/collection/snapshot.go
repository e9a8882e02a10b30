package collection

import (
	"context"
	"fmt"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// Snapshot returns every record matching q's filter, in q's sort order,
// following server-side pagination until the result is complete.
//
// $skip, $limit and $select on q are ignored: a snapshot is always the whole
// matching set with full records. Either the complete set is returned or an
// error; partial results are discarded.
func Snapshot(ctx context.Context, c Collection, q queryir.Query) ([]record.Record, error) {
	base := queryir.Query{Filter: q.Filter, Sort: q.Sort}

	var out []record.Record
	for {
		page, err := c.Find(ctx, base.WithSkip(len(out)))
		if err != nil {
			return nil, fmt.Errorf("snapshot at offset %d: %w", len(out), err)
		}
		out = append(out, page.Data...)

		if len(page.Data) == 0 || len(out) >= page.Total {
			return out, nil
		}
	}
}
