package job

import (
	"context"

	"github.com/txn2/mcp-lakejobs/pkg/engine"
	"github.com/txn2/mcp-lakejobs/pkg/record"
)

// DefaultPreviewRows is the number of rows a dry run fetches.
const DefaultPreviewRows = 10

// outcome is the result stage's output: either a preview or the full result.
type outcome struct {
	preview *record.Batch
	batches []record.Batch
}

// selectMode reads the result for the requested path. A dry run reads at
// most previewRows rows and yields no batches, so nothing downstream can
// write.
func selectMode(ctx context.Context, res engine.Result, dryRun bool, previewRows int) (*outcome, error) {
	if dryRun {
		b, err := res.Preview(ctx, previewRows)
		if err != nil {
			return nil, failure(StagePreview, "", KindQuery, err)
		}
		return &outcome{preview: &b}, nil
	}
	batches, err := res.Materialize(ctx)
	if err != nil {
		return nil, failure(StageMaterialize, "", KindQuery, err)
	}
	return &outcome{batches: batches}, nil
}
