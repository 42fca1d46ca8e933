package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/url"
	"strings"
	"testing"

	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/people"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crsidPeople() *fakeResolver {
	return &fakeResolver{
		scheme: identifiers.CRSID,
		people: people.People{
			identifiers.ToString("ab1", identifiers.CRSID): {"visible_name": "A. Bee", "group": "staff"},
			identifiers.ToString("cd2", identifiers.CRSID): {"visible_name": "C. Dee", "group": "staff"},
			identifiers.ToString("ef3", identifiers.CRSID): {"visible_name": "E. Eff", "group": "staff"},
		},
	}
}

func queryCards() *fakeCards {
	return &fakeCards{cards: []record.Record{
		card("c1", StatusIssued, "2021-05-23T00:00:00Z", crsid("AB1")),
		card("c2", "REVOKED", "2021-05-24T00:00:00Z", crsid("ab1")),
		card("c3", StatusIssued, "2021-05-25T00:00:00Z", crsid("cd2")),
	}}
}

func lookupQuery() people.Query {
	return people.ByLookupGroup{Source: people.LookupCRSIDs, IDs: []string{"ab1", "cd2", "ef3"}}
}

func TestExportCards(t *testing.T) {
	cards := queryCards()
	resolver := crsidPeople()
	path := tempExport(t)

	n, err := ExportCards(context.Background(), cards, resolver, FileStore{}, CardsOptions{
		Options: Options{Location: path, Fields: []string{"id", "crsid", "visible_name", "group", "status"}},
		Queries: []people.Query{lookupQuery()},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, [][]string{
		{"id", "crsid", "visible_name", "group", "status"},
		{"c1", "ab1", "A. Bee", "staff", "ISSUED"},
		{"c2", "ab1", "A. Bee", "staff", "REVOKED"},
		{"c3", "cd2", "C. Dee", "staff", "ISSUED"},
	}, readCSV(t, path))

	require.Len(t, cards.filterCalls, 1)
	assert.Equal(t, []string{
		"ab1@v1.person.identifiers.cam.ac.uk",
		"cd2@v1.person.identifiers.cam.ac.uk",
		"ef3@v1.person.identifiers.cam.ac.uk",
	}, cards.filterCalls[0])
	assert.Empty(t, cards.detailCalls, "detail is only fetched for extended fields")
}

func TestExportCards_Filter(t *testing.T) {
	path := tempExport(t)

	n, err := ExportCards(context.Background(), queryCards(), crsidPeople(), FileStore{}, CardsOptions{
		Options: Options{Location: path, Fields: []string{"id"}},
		Queries: []people.Query{lookupQuery()},
		Filter:  map[string]any{"status": StatusIssued},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]string{{"id"}, {"c1"}, {"c3"}}, readCSV(t, path))
}

func TestExportCards_Deduplicate(t *testing.T) {
	queries := []people.Query{lookupQuery(), lookupQuery()}

	tests := []struct {
		name        string
		deduplicate bool
		want        int
	}{
		{"duplicates kept", false, 6},
		{"duplicates dropped", true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := crsidPeople()
			n, err := ExportCards(context.Background(), queryCards(), resolver, FileStore{}, CardsOptions{
				Options:     Options{Location: tempExport(t), Fields: []string{"id"}},
				Queries:     queries,
				Deduplicate: tt.deduplicate,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Equal(t, 2, resolver.calls)
		})
	}
}

func TestExportCards_ExtendedFields(t *testing.T) {
	cards := queryCards()
	cards.details = map[string]record.Record{
		"c1": {"id": "c1", "notes": []any{
			map[string]any{"text": "first", "createdAt": "2021-01-01T00:00:00Z"},
			map[string]any{"text": "latest", "createdAt": "2021-02-01T00:00:00Z"},
		}},
		"c2": {"id": "c2"},
		"c3": {"id": "c3", "notes": []any{}},
	}
	path := tempExport(t)

	_, err := ExportCards(context.Background(), cards, crsidPeople(), FileStore{}, CardsOptions{
		Options:           Options{Location: path, Fields: []string{"id", "lastnote", "lastnoteAt"}},
		Queries:           []people.Query{lookupQuery()},
		DetailConcurrency: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"id", "lastnote", "lastnoteAt"},
		{"c1", "latest", "2021-02-01T00:00:00Z"},
		{"c2", "", ""},
		{"c3", "", ""},
	}, readCSV(t, path))
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, cards.detailCalls)
}

func TestExportCards_DefaultColumns(t *testing.T) {
	path := tempExport(t)

	_, err := ExportCards(context.Background(), queryCards(), crsidPeople(), FileStore{}, CardsOptions{
		Options: Options{Location: path},
		Queries: []people.Query{lookupQuery()},
	})
	require.NoError(t, err)

	header := readCSV(t, path)[0]
	assert.Equal(t, DefaultFields, header[:len(DefaultFields)])
	assert.Equal(t, []string{"lastnote", "lastnoteAt", "group"}, header[len(DefaultFields):])
}

// countingStore counts the bytes written through Replace.
type countingStore struct {
	written int
}

func (s *countingStore) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, ErrNotFound
}

func (s *countingStore) Replace(_ context.Context, _ string, write func(w io.Writer) error) error {
	return write(s)
}

func (s *countingStore) Write(p []byte) (int, error) {
	s.written += len(p)
	return len(p), nil
}

// observedCards yields its cards and records how many bytes the store had
// received before each card after the first.
type observedCards struct {
	*fakeCards
	store    *countingStore
	observed []int
}

func (o *observedCards) CardsForIdentifiers(_ context.Context, _ []string, _ int, _ url.Values) (iter.Seq2[record.Record, error], error) {
	return func(yield func(record.Record, error) bool) {
		for i, c := range o.cards {
			if i > 0 {
				o.observed = append(o.observed, o.store.written)
			}
			if !yield(c, nil) {
				return
			}
		}
	}, nil
}

func TestExportCards_StreamsRowsWithoutExtendedFields(t *testing.T) {
	// Rows larger than the CSV writer's buffer reach the store as soon as
	// they are written.
	large := strings.Repeat("x", 8192)
	first := card("c1", StatusIssued, "2021-05-23T00:00:00Z", crsid("ab1"))
	first["note"] = large
	second := card("c2", StatusIssued, "2021-05-24T00:00:00Z", crsid("cd2"))
	second["note"] = large

	store := &countingStore{}
	cards := &observedCards{fakeCards: &fakeCards{cards: []record.Record{first, second}}, store: store}

	n, err := ExportCards(context.Background(), cards, crsidPeople(), store, CardsOptions{
		Options: Options{Location: "cards.csv", Fields: []string{"id", "note"}},
		Queries: []people.Query{lookupQuery()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, cards.observed, 1)
	assert.Positive(t, cards.observed[0], "first row written before the second card arrived")
	assert.Empty(t, cards.detailCalls)
}

func TestAddLastNotes_FetchesEachCardOnce(t *testing.T) {
	cards := &fakeCards{details: map[string]record.Record{
		"c1": {"id": "c1", "notes": []any{map[string]any{"text": "lost", "createdAt": "2021-01-01T00:00:00Z"}}},
		"c2": {"id": "c2"},
	}}
	rows := []record.Record{{"id": "c1"}, {"id": "c2"}, {"id": "c1"}}

	require.NoError(t, addLastNotes(context.Background(), cards, rows, 2))

	assert.ElementsMatch(t, []string{"c1", "c2"}, cards.detailCalls)
	assert.Equal(t, "lost", rows[0].String("lastnote"))
	assert.Equal(t, "lost", rows[2].String("lastnote"))
	assert.Equal(t, "", rows[1].String("lastnote"))
}

func TestExportCards_Errors(t *testing.T) {
	_, err := ExportCards(context.Background(), queryCards(), crsidPeople(), FileStore{}, CardsOptions{
		Options: Options{Location: tempExport(t)},
	})
	assert.ErrorIs(t, err, ErrNoQueries)

	resolver := crsidPeople()
	resolver.err = people.ErrSourceNotConfigured
	_, err = ExportCards(context.Background(), queryCards(), resolver, FileStore{}, CardsOptions{
		Options: Options{Location: tempExport(t)},
		Queries: []people.Query{lookupQuery()},
	})
	assert.ErrorIs(t, err, people.ErrSourceNotConfigured)
}

func TestPrintCardDetail(t *testing.T) {
	cards := queryCards()
	cards.details = map[string]record.Record{
		"c1": cards.cards[0],
		"c2": cards.cards[1],
		"c3": cards.cards[2],
	}

	t.Run("by card id", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintCardDetail(context.Background(), cards, &buf, "c3", "", false))

		var got []map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "c3", got[0]["id"])
		assert.Contains(t, got[0], "identifiers")
		assert.Contains(t, buf.String(), "\n    {")
	})

	t.Run("by identifier normalized", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintCardDetail(context.Background(), cards, &buf, "AB1", "crsid", true))

		var got []map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "c1", got[0]["id"])
		assert.Equal(t, "c2", got[1]["id"])
		assert.Equal(t, "ab1", got[0]["crsid"])
		assert.NotContains(t, got[0], "identifiers")
	})

	t.Run("unknown scheme", func(t *testing.T) {
		err := PrintCardDetail(context.Background(), cards, &bytes.Buffer{}, "ab1", "nickname", false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be one of: barcode, bgs_id, crsid")
	})

	t.Run("no cards", func(t *testing.T) {
		err := PrintCardDetail(context.Background(), cards, &bytes.Buffer{}, "zz9", "crsid", false)
		assert.True(t, errors.Is(err, ErrNoCards), "error = %v", err)
	})
}
