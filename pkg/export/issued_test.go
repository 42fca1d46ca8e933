package export

import (
	"context"
	"errors"
	"net/url"
	"os"
	"testing"

	"github.com/Sternrassler/cardclient/internal/testutil"
	"github.com/Sternrassler/cardclient/pkg/auth"
	"github.com/Sternrassler/cardclient/pkg/cardapi"
	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/identityapi"
	"github.com/Sternrassler/cardclient/pkg/reconcile"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportIssuedCards(t *testing.T) {
	cards := &fakeCards{cards: []record.Record{
		card("1", StatusIssued, "2021-05-23T00:00:00Z", crsid("AB1")),
		card("2", StatusIssued, "2021-05-24T00:00:00Z", crsid("cd2")),
	}}
	path := tempExport(t)

	n, err := ExportIssuedCards(context.Background(), cards, FileStore{}, Options{
		Location: path,
		Fields:   []string{"crsid", "status"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, [][]string{
		{"crsid", "status", "id", "updatedAt"},
		{"ab1", "ISSUED", "1", "2021-05-23T00:00:00Z"},
		{"cd2", "ISSUED", "2", "2021-05-24T00:00:00Z"},
	}, readCSV(t, path))

	require.Len(t, cards.allParams, 1)
	assert.Equal(t, url.Values{"status": {"ISSUED"}, "card_type": {"MIFARE_PERSONAL"}}, cards.allParams[0])
}

func TestExportIssuedCards_DefaultColumns(t *testing.T) {
	cards := &fakeCards{cards: []record.Record{
		card("1", StatusIssued, "2021-05-23T00:00:00Z", crsid("ab1")),
	}}
	path := tempExport(t)

	_, err := ExportIssuedCards(context.Background(), cards, FileStore{}, Options{Location: path, Silent: true})
	require.NoError(t, err)

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, DefaultFields, rows[0])
	assert.Equal(t, "ab1", rows[1][1])
}

func TestExportIssuedCards_NoCardsWritesEmptyFile(t *testing.T) {
	path := tempExport(t)

	n, err := ExportIssuedCards(context.Background(), &fakeCards{}, FileStore{}, Options{Location: path})
	require.NoError(t, err)
	assert.Zero(t, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)

	// An empty export has no high-water mark to update from.
	_, err = UpdateIssuedCardsExport(context.Background(), &fakeCards{}, FileStore{}, Options{Location: path})
	var recErr *reconcile.ReconciliationError
	assert.True(t, errors.As(err, &recErr), "error = %v", err)
}

func TestUpdateIssuedCardsExport(t *testing.T) {
	path := tempExport(t)
	require.NoError(t, os.WriteFile(path, []byte(
		"id,status,updatedAt\r\n"+
			"122,ISSUED,2021-05-23T00:00:00Z\r\n"+
			"123,ISSUED,2021-01-23T00:00:00Z\r\n"+
			"124,ISSUED,2021-06-23T00:00:00Z\r\n"), 0o644))

	cards := &fakeCards{cards: []record.Record{
		card("123", StatusIssued, "2021-06-24T00:00:00Z"),
		card("124", "REVOKED", "2021-06-24T00:00:00Z"),
		card("125", StatusIssued, "2021-06-25T00:00:00Z"),
	}}

	result, err := UpdateIssuedCardsExport(context.Background(), cards, FileStore{}, Options{Location: path})
	require.NoError(t, err)
	assert.Equal(t, reconcile.Counts{Added: 1, Updated: 1, Removed: 1, Unchanged: 1}, result.Counts)

	assert.Equal(t, [][]string{
		{"id", "status", "updatedAt"},
		{"122", "ISSUED", "2021-05-23T00:00:00Z"},
		{"123", "ISSUED", "2021-06-24T00:00:00Z"},
		{"125", "ISSUED", "2021-06-25T00:00:00Z"},
	}, readCSV(t, path))

	require.Len(t, cards.allParams, 1)
	assert.Equal(t, url.Values{
		"updated_at__gte": {"2021-06-23T00:00:00"},
		"card_type":       {"MIFARE_PERSONAL"},
	}, cards.allParams[0])
}

func TestUpdateIssuedCardsExport_MissingExport(t *testing.T) {
	cards := &fakeCards{}
	_, err := UpdateIssuedCardsExport(context.Background(), cards, FileStore{}, Options{Location: tempExport(t)})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, cards.allParams)
}

func TestUpdateIssuedCardsExport_InvalidSnapshotLeavesFile(t *testing.T) {
	path := tempExport(t)
	original := "id,updatedAt\r\n1,2021-01-01T00:00:00Z\r\n2,\r\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	cards := &fakeCards{}
	_, err := UpdateIssuedCardsExport(context.Background(), cards, FileStore{}, Options{Location: path})

	var recErr *reconcile.ReconciliationError
	require.True(t, errors.As(err, &recErr), "error = %v", err)
	assert.Equal(t, 2, recErr.Row)
	assert.Empty(t, cards.allParams, "no delta is fetched for an invalid export")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func newTestSession(t *testing.T, mock *testutil.MockAPI) *identityapi.Session {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	s, err := identityapi.NewSession(context.Background(), identityapi.Config{
		BaseURL:       mock.URL() + "/card",
		PageSize:      1,
		RetryAttempts: identityapi.Int(2),
		RetryWaitMin:  identityapi.Seconds(0.001),
		RetryWaitMax:  identityapi.Seconds(0.002),
		BearerToken:   "test-token",
	}, cardapi.API, identityapi.Options{Tokens: auth.NewTokenCache(nil, logger), Logger: logger})
	require.NoError(t, err)
	return s
}

func TestExportIssuedCards_CardAPI(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPages("/card/v1beta1/cards/",
		[]map[string]any{card("1", StatusIssued, "2021-05-23T00:00:00Z", crsid("ab1"))},
		[]map[string]any{card("2", StatusIssued, "2021-05-24T00:00:00Z",
			crsid("cd2"), identifiers.Identifier{Value: "123456", Scheme: identifiers.MifareID})},
	)
	path := tempExport(t)

	n, err := ExportIssuedCards(context.Background(), cardapi.New(newTestSession(t, mock)), FileStore{}, Options{
		Location: path,
		Fields:   []string{"crsid", "mifare_id", "mifare_id_hex"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]string{
		{"crsid", "mifare_id", "mifare_id_hex", "id", "updatedAt"},
		{"ab1", "", "", "1", "2021-05-23T00:00:00Z"},
		{"cd2", "123456", "0001e240", "2", "2021-05-24T00:00:00Z"},
	}, readCSV(t, path))
	assert.Len(t, mock.RequestsFor("/card/v1beta1/cards/"), 2)
}
