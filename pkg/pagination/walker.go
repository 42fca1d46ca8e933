package pagination

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"github.com/Sternrassler/cardclient/pkg/client"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cardclient_pages_fetched_total",
	Help: "Total result pages fetched from list endpoints",
})

// Sender performs a single logical request, retries included.
type Sender interface {
	Send(ctx context.Context, spec client.RequestSpec) (*client.Response, error)
}

// Page is one page of a list endpoint.
type Page struct {
	Results []record.Record `json:"results"`
	Next    *string         `json:"next"`
}

// Walk returns the records of every page reachable from initial, in order.
// Pages are requested lazily, one at a time.
func Walk(ctx context.Context, sender Sender, initial client.RequestSpec) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		spec := initial
		for pageNum := 1; ; pageNum++ {
			resp, err := sender.Send(ctx, spec)
			if err != nil {
				yield(nil, fmt.Errorf("fetch page %d of %s: %w", pageNum, initial.URL, err))
				return
			}

			var page Page
			if err := resp.Decode(&page); err != nil {
				yield(nil, fmt.Errorf("page %d of %s: %w", pageNum, initial.URL, err))
				return
			}
			pagesFetchedTotal.Inc()

			log.Debug().
				Str("endpoint", initial.URL).
				Int("page", pageNum).
				Int("results", len(page.Results)).
				Msg("Fetched page")

			for _, r := range page.Results {
				if !yield(r, nil) {
					return
				}
			}

			if page.Next == nil || *page.Next == "" {
				return
			}
			spec = client.RequestSpec{Method: http.MethodGet, URL: *page.Next}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[record.Record, error]) ([]record.Record, error) {
	var out []record.Record
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
