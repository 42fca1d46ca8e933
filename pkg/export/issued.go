package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"time"

	"github.com/Sternrassler/cardclient/pkg/cardapi"
	"github.com/Sternrassler/cardclient/pkg/people"
	"github.com/Sternrassler/cardclient/pkg/reconcile"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/rs/zerolog"
)

// DefaultLocation is written when no output location is configured.
const DefaultLocation = "export.csv"

// progressEvery is the row interval of progress logs.
const progressEvery = 100

// Card filter values for issued personal cards.
const (
	StatusIssued       = "ISSUED"
	CardTypePersonal   = "MIFARE_PERSONAL"
	updatedAtGteParam  = "updated_at__gte"
	cardTypeParam      = "card_type"
	statusParam        = "status"
	issuedCardsExport  = "issued_cards"
	issuedUpdateExport = "issued_cards_update"
	cardsExport        = "cards"
)

// CardSource is the Card API surface exports read from.
type CardSource interface {
	AllCards(ctx context.Context, params url.Values) iter.Seq2[record.Record, error]
	CardsForIdentifiers(ctx context.Context, ids []string, chunkSize int, params url.Values) (iter.Seq2[record.Record, error], error)
	CardDetail(ctx context.Context, cardID string) (record.Record, error)
}

// PeopleResolver turns queries into the people whose cards are exported.
type PeopleResolver interface {
	Resolve(ctx context.Context, q people.Query) (people.People, string, error)
}

// Options configures where and how an export is written.
type Options struct {
	// Location is the file path or object key. Defaults to DefaultLocation.
	Location string

	// Fields are the configured output columns, if any.
	Fields []string

	// Silent disables progress logs.
	Silent bool

	Logger zerolog.Logger
}

func (o Options) location() string {
	if o.Location == "" {
		return DefaultLocation
	}
	return o.Location
}

func (o Options) progress(kind string, rows int) {
	if o.Silent || rows%progressEvery != 0 {
		return
	}
	o.Logger.Info().Str("export", kind).Int("rows", rows).Msg("Export progress")
}

func newCSVWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	return cw
}

// ExportIssuedCards writes every issued personal card to the store and
// returns the number of rows written. Columns are derived from the first
// card, so an export without cards is an empty file.
func ExportIssuedCards(ctx context.Context, cards CardSource, store Store, opts Options) (int, error) {
	location := opts.location()
	opts.Logger.Info().Str("location", location).Msg("Writing all issued cards")

	rows := 0
	err := store.Replace(ctx, location, func(w io.Writer) error {
		cw := newCSVWriter(w)
		var fields []string

		params := url.Values{statusParam: {StatusIssued}, cardTypeParam: {CardTypePersonal}}
		for card, err := range cards.AllCards(ctx, params) {
			if err != nil {
				return err
			}
			row := cardapi.NormalizeCard(card)
			if fields == nil {
				fields = FieldNames(opts.Fields, row)
				if err := cw.Write(fields); err != nil {
					return err
				}
			}
			if err := cw.Write(row.Row(fields)); err != nil {
				return err
			}
			rows++
			exportRowsTotal.WithLabelValues(issuedCardsExport).Inc()
			opts.progress(issuedCardsExport, rows)
		}

		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return rows, fmt.Errorf("export issued cards to %s: %w", location, err)
	}

	opts.Logger.Info().Int("cards", rows).Str("location", location).Msg("Issued card export complete")
	return rows, nil
}

// UpdateIssuedCardsExport brings an existing issued-card export up to date
// with the cards changed since its most recent updatedAt. Cards no longer
// issued are removed; the column set of the export is kept.
func UpdateIssuedCardsExport(ctx context.Context, cards CardSource, store Store, opts Options) (*reconcile.Result, error) {
	location := opts.location()
	opts.Logger.Info().Str("location", location).Msg("Updating cards in place")

	snapshot, err := readSnapshot(ctx, store, location)
	if err != nil {
		return nil, err
	}

	delta := func(ctx context.Context, since time.Time) iter.Seq2[record.Record, error] {
		opts.Logger.Info().
			Time("since", since).
			Msg("Querying for cards updated since most recent card in export")
		return cards.AllCards(ctx, url.Values{
			updatedAtGteParam: {since.Format(cardapi.TimestampFormat)},
			cardTypeParam:     {CardTypePersonal},
		})
	}

	result, err := reconcile.Reconcile(ctx, snapshot, delta, reconcile.Options{
		IsRemoved: func(r record.Record) bool { return r.String(statusParam) != StatusIssued },
		Normalize: cardapi.NormalizeCard,
	})
	if err != nil {
		return nil, err
	}

	err = store.Replace(ctx, location, func(w io.Writer) error {
		cw := newCSVWriter(w)
		if err := cw.Write(result.FieldNames); err != nil {
			return err
		}
		for _, row := range result.Rows {
			if err := cw.Write(row.Row(result.FieldNames)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return nil, fmt.Errorf("write updated export %s: %w", location, err)
	}
	exportRowsTotal.WithLabelValues(issuedUpdateExport).Add(float64(len(result.Rows)))

	opts.Logger.Info().
		Int("added", result.Counts.Added).
		Int("updated", result.Counts.Updated).
		Int("removed", result.Counts.Removed).
		Msg("Incremental update complete")
	return result, nil
}

// readSnapshot loads a CSV export. An empty file yields a snapshot without
// rows, which reconciliation rejects.
func readSnapshot(ctx context.Context, store Store, location string) (reconcile.Snapshot, error) {
	rc, err := store.Open(ctx, location)
	if err != nil {
		return reconcile.Snapshot{}, err
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return reconcile.Snapshot{}, nil
	}
	if err != nil {
		return reconcile.Snapshot{}, fmt.Errorf("read export header: %w", err)
	}

	snapshot := reconcile.Snapshot{FieldNames: header}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reconcile.Snapshot{}, fmt.Errorf("read export row %d: %w", len(snapshot.Rows)+1, err)
		}
		snapshot.Rows = append(snapshot.Rows, record.FromRow(header, row))
	}
	return snapshot, nil
}
