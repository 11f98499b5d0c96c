// Package producer runs the sources that feed candidates into the ingestion
// port. A Producer knows how to fetch; the Scheduler decides when.
package producer

import (
	"context"

	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/ingest"
)

// SubmitFunc hands one candidate to the ingestion port. (*ingest.Port).Submit
// satisfies it.
type SubmitFunc func(ctx context.Context, c fact.Candidate) (ingest.AdmissionResult, error)

// Producer polls a single external source.
type Producer interface {
	Name() string
	// Poll fetches once and submits every candidate found. It returns the
	// number of candidates that were admitted.
	Poll(ctx context.Context, submit SubmitFunc) (int, error)
}

// Watcher is implemented by producers that can also push changes as they
// happen. The scheduler runs Watch next to the poll loop until ctx is done,
// and report is called after each watch-driven batch.
type Watcher interface {
	Watch(ctx context.Context, submit SubmitFunc, report func(admitted int, err error)) error
}

// Idler is implemented by producers that may have nothing to fetch. An idle
// producer is listed in scheduler stats but never polled.
type Idler interface {
	Idle() bool
}

// PollFunc adapts a function to the Producer interface
type PollFunc struct {
	ProducerName string
	Fn           func(ctx context.Context, submit SubmitFunc) (int, error)
}

func (p PollFunc) Name() string { return p.ProducerName }

func (p PollFunc) Poll(ctx context.Context, submit SubmitFunc) (int, error) {
	return p.Fn(ctx, submit)
}

// SubmitAll submits candidates in order and counts admissions. Rejected
// candidates do not stop the batch; the first rejection error is returned
// after every candidate has been tried. A cancelled context stops the batch.
func SubmitAll(ctx context.Context, submit SubmitFunc, candidates []fact.Candidate) (int, error) {
	admitted := 0
	var firstErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return admitted, err
		}
		res, err := submit(ctx, c)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if res.Admitted {
			admitted++
		}
	}
	return admitted, firstErr
}

// withDefaults fills the source fields a feed may leave implicit
func withDefaults(candidates []fact.Candidate, source, sourceURL string) []fact.Candidate {
	for i := range candidates {
		if candidates[i].Source == "" {
			candidates[i].Source = source
		}
		if candidates[i].SourceURL == "" {
			candidates[i].SourceURL = sourceURL
		}
	}
	return candidates
}
