package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/Sternrassler/cardclient/pkg/cardapi"
	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/pagination"
	"github.com/Sternrassler/cardclient/pkg/people"
	"github.com/Sternrassler/cardclient/pkg/record"
)

// ErrNoQueries is returned by ExportCards when no query is configured.
var ErrNoQueries = errors.New("config.queries must be non-empty")

// ErrNoCards is returned by PrintCardDetail when an identifier has no cards.
var ErrNoCards = errors.New("no card records")

// CardsOptions configures a query-driven export.
type CardsOptions struct {
	Options

	Queries []people.Query

	// Filter keeps only cards whose fields equal every value given.
	Filter map[string]any

	// Deduplicate writes each card once even when several queries match it.
	Deduplicate bool

	// DetailConcurrency bounds parallel card detail fetches.
	DetailConcurrency int
}

// ExportCards writes the cards of the people selected by each query, joined
// with what is known about those people, and returns the number of rows.
func ExportCards(ctx context.Context, cards CardSource, resolver PeopleResolver, store Store, opts CardsOptions) (int, error) {
	if len(opts.Queries) == 0 {
		return 0, ErrNoQueries
	}
	location := opts.location()
	extended := wantsExtended(opts.Fields)
	seen := make(map[string]bool)

	written := 0
	err := store.Replace(ctx, location, func(w io.Writer) error {
		cw := newCSVWriter(w)
		var fields []string

		writeRow := func(row record.Record) error {
			if fields == nil {
				fields = opts.Fields
				if len(fields) == 0 {
					fields = cardFieldNames(row)
				}
				if err := cw.Write(fields); err != nil {
					return err
				}
			}
			if err := cw.Write(row.Row(fields)); err != nil {
				return err
			}
			written++
			exportRowsTotal.WithLabelValues(cardsExport).Inc()
			opts.progress(cardsExport, written)
			return nil
		}

		for i, q := range opts.Queries {
			found, scheme, err := resolver.Resolve(ctx, q)
			if err != nil {
				return fmt.Errorf("query %d: %w", i+1, err)
			}
			ids := slices.Sorted(maps.Keys(found))

			seq, err := cards.CardsForIdentifiers(ctx, ids, cardapi.DefaultChunkSize, nil)
			if err != nil {
				return err
			}

			// Rows are only held back when their card details are needed.
			var pending []record.Record
			count := 0
			withCards := make(map[string]bool)
			for card, err := range seq {
				if err != nil {
					return err
				}
				if opts.Deduplicate && seen[card.ID()] {
					continue
				}
				if !matchesFilter(card, opts.Filter) {
					continue
				}
				seen[card.ID()] = true
				count++

				var person record.Record
				if personID, ok := cardapi.IdentifierByScheme(card, scheme); ok {
					person = found[personID]
					withCards[personID] = true
				}
				row := record.Merge(person, cardapi.NormalizeCard(card))
				if extended {
					pending = append(pending, row)
					continue
				}
				if err := writeRow(row); err != nil {
					return err
				}
			}

			if extended {
				if err := addLastNotes(ctx, cards, pending, opts.DetailConcurrency); err != nil {
					return err
				}
				for _, row := range pending {
					if err := writeRow(row); err != nil {
						return err
					}
				}
			}

			opts.Logger.Info().
				Int("query", i+1).
				Int("people", len(ids)).
				Int("people_with_cards", len(withCards)).
				Int("cards", count).
				Msg("Query exported")
		}

		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return written, fmt.Errorf("export cards to %s: %w", location, err)
	}

	opts.Logger.Info().Int("cards", written).Str("location", location).Msg("Exported cards")
	return written, nil
}

func matchesFilter(card record.Record, filter map[string]any) bool {
	for k, want := range filter {
		if card.String(k) != record.FormatValue(want) {
			return false
		}
	}
	return true
}

// addLastNotes sets lastnote and lastnoteAt on every row from the most
// recent note of the card's detail.
func addLastNotes(ctx context.Context, cards CardSource, rows []record.Record, concurrency int) error {
	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.ID()]; ok {
			continue
		}
		seen[row.ID()] = struct{}{}
		ids = append(ids, row.ID())
	}

	cfg := pagination.DefaultConfig()
	if concurrency > 0 {
		cfg.MaxConcurrency = concurrency
	}
	details, err := pagination.NewBatchFetcher[string, record.Record](cards.CardDetail, cfg).FetchAll(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetch card details: %w", err)
	}

	for _, row := range rows {
		row["lastnote"] = ""
		row["lastnoteAt"] = ""
		notes, _ := details[row.ID()]["notes"].([]any)
		if len(notes) == 0 {
			continue
		}
		if last, ok := notes[len(notes)-1].(map[string]any); ok {
			row["lastnote"] = record.FormatValue(last["text"])
			row["lastnoteAt"] = record.FormatValue(last["createdAt"])
		}
	}
	return nil
}

// PrintCardDetail writes the detail of the cards behind identifier to w as
// an indented JSON list. Without a scheme name identifier is a card id;
// with one, every card of that identifier is printed.
func PrintCardDetail(ctx context.Context, cards CardSource, w io.Writer, identifier, schemeName string, normalize bool) error {
	cardIDs := []string{identifier}

	if schemeName != "" {
		scheme, ok := identifiers.SchemeForName(schemeName)
		if !ok {
			return fmt.Errorf("%s not a recognized id scheme, must be one of: %s",
				schemeName, strings.Join(identifiers.Names(), ", "))
		}

		seq, err := cards.CardsForIdentifiers(ctx, []string{identifiers.ToString(identifier, scheme)}, cardapi.DefaultChunkSize, nil)
		if err != nil {
			return err
		}
		found, err := pagination.Collect(seq)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("%w for %s %s", ErrNoCards, schemeName, identifier)
		}

		cardIDs = cardIDs[:0]
		for _, card := range found {
			cardIDs = append(cardIDs, card.ID())
		}
	}

	details := make([]record.Record, 0, len(cardIDs))
	for _, id := range cardIDs {
		detail, err := cards.CardDetail(ctx, id)
		if err != nil {
			return err
		}
		if normalize {
			detail = cardapi.NormalizeCard(detail)
		}
		details = append(details, detail)
	}

	data, err := json.MarshalIndent(details, "", "    ")
	if err != nil {
		return fmt.Errorf("encode card detail: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
