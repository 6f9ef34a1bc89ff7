package termstructure

import (
	"context"
	"time"

	"github.com/GBERESEARCH/voldiscount/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Job is one independent curve to fill.
type Job struct {
	Name      string               `json:"name"`
	Table     models.TermStructure `json:"table"`
	Valuation time.Time            `json:"valuation_date"`
	Expiries  []time.Time          `json:"expiries"`
}

type JobResult struct {
	Name  string               `json:"name"`
	Table models.TermStructure `json:"table"`
	Added int                  `json:"added"`
	Err   error                `json:"-"`
}

// FillBatch runs FillExpiries for each job, at most limit at a time (no limit
// when limit <= 0). Results follow job order. Per-job fill failures land on
// JobResult.Err; the returned error is only set when ctx ends first.
func (f *Filler) FillBatch(ctx context.Context, jobs []Job, limit int) ([]JobResult, error) {
	results := make([]JobResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			table, err := f.FillExpiries(job.Table, job.Valuation, job.Expiries)
			results[i] = JobResult{
				Name:  job.Name,
				Table: table,
				Added: table.Len() - job.Table.Len(),
				Err:   err,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
