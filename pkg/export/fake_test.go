package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/Sternrassler/cardclient/pkg/cardapi"
	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/people"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/stretchr/testify/require"
)

// fakeCards serves cards from memory and records what it was asked for.
type fakeCards struct {
	mu sync.Mutex

	cards   []record.Record
	details map[string]record.Record

	allParams   []url.Values
	filterCalls [][]string
	detailCalls []string
}

func (f *fakeCards) AllCards(_ context.Context, params url.Values) iter.Seq2[record.Record, error] {
	f.mu.Lock()
	f.allParams = append(f.allParams, params)
	f.mu.Unlock()
	return seqOf(f.cards...)
}

func (f *fakeCards) CardsForIdentifiers(_ context.Context, ids []string, _ int, _ url.Values) (iter.Seq2[record.Record, error], error) {
	f.mu.Lock()
	f.filterCalls = append(f.filterCalls, ids)
	f.mu.Unlock()

	var out []record.Record
	for _, card := range f.cards {
		for _, id := range cardapi.Identifiers(card) {
			if slices.Contains(ids, id.Key()) {
				out = append(out, card)
				break
			}
		}
	}
	return seqOf(out...), nil
}

func (f *fakeCards) CardDetail(_ context.Context, id string) (record.Record, error) {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, id)
	f.mu.Unlock()

	d, ok := f.details[id]
	if !ok {
		return nil, fmt.Errorf("no detail for %s", id)
	}
	return d, nil
}

func seqOf(records ...record.Record) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// fakeResolver answers every query with the same people.
type fakeResolver struct {
	people people.People
	scheme string
	err    error
	calls  int
}

func (f *fakeResolver) Resolve(context.Context, people.Query) (people.People, string, error) {
	f.calls++
	return f.people, f.scheme, f.err
}

func card(id, status, updatedAt string, ids ...identifiers.Identifier) record.Record {
	list := make([]any, 0, len(ids))
	for _, i := range ids {
		list = append(list, map[string]any{"value": i.Value, "scheme": i.Scheme})
	}
	return record.Record{
		"id":          id,
		"status":      status,
		"cardType":    CardTypePersonal,
		"updatedAt":   updatedAt,
		"identifiers": list,
	}
}

func crsid(v string) identifiers.Identifier {
	return identifiers.Identifier{Value: v, Scheme: identifiers.CRSID}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func tempExport(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "export.csv")
}
