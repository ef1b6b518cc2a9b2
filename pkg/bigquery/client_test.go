package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/catermatch-backend/pkg/config"
)

func TestResolveTables(t *testing.T) {
	tables, err := resolveTables(config.BigQueryConfig{LocationEvalsTable: " location_evals ", MatchingEvalsTable: ""})
	require.NoError(t, err)
	require.Equal(t, []string{"location_evals"}, tables.names())
	require.True(t, tables.has("location_evals"))
	require.False(t, tables.has(""))
	require.False(t, tables.has("matching_evals"))

	_, err = resolveTables(config.BigQueryConfig{LocationEvalsTable: " "})
	require.ErrorIs(t, err, errNoEvalTables)
}

func TestTableAccessors(t *testing.T) {
	c := &Client{tables: evalTables{location: "loc", matching: "match"}}
	require.Equal(t, "loc", c.LocationEvalsTable())
	require.Equal(t, "match", c.MatchingEvalsTable())
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := NewClient(ctx, config.GCPConfig{}, config.BigQueryConfig{Dataset: "catermatch"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "cm"}, config.BigQueryConfig{}, nil)
	require.ErrorIs(t, err, errDatasetRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "cm"}, config.BigQueryConfig{Dataset: "catermatch"}, nil)
	require.ErrorIs(t, err, errNoEvalTables)
}

func TestClientOptions(t *testing.T) {
	require.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds"}), 1)
	require.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds"}), 1)
	require.Empty(t, clientOptions(config.GCPConfig{}))
}

func TestInsertRowsRejectsUnknownTable(t *testing.T) {
	c := &Client{dataset: &bigquery.Dataset{DatasetID: "catermatch"}, tables: evalTables{matching: "matching_evals"}}
	err := c.InsertRows(context.Background(), "orders", []any{struct{}{}})
	require.ErrorIs(t, err, errUnknownTable)

	var nilClient *Client
	require.ErrorIs(t, nilClient.InsertRows(context.Background(), "matching_evals", nil), errNotInitialized)
}

func TestSummarizeInsertErr(t *testing.T) {
	require.NoError(t, summarizeInsertErr("matching_evals", 3, nil))

	multi := bigquery.PutMultiError{
		{RowIndex: 0, Errors: bigquery.MultiError{errors.New("no such field: foo")}},
		{RowIndex: 2, Errors: bigquery.MultiError{errors.New("no such field: foo")}},
	}
	err := summarizeInsertErr("matching_evals", 3, fmt.Errorf("put: %w", multi))
	require.ErrorContains(t, err, "insert into matching_evals: 2 of 3 rows rejected")
	require.ErrorContains(t, err, "no such field: foo")

	err = summarizeInsertErr("location_evals", 1, errors.New("deadline exceeded"))
	require.EqualError(t, err, "insert into location_evals: deadline exceeded")
}

func TestIsNotFound(t *testing.T) {
	require.True(t, isNotFound(fmt.Errorf("wrap: %w", &googleapi.Error{Code: http.StatusNotFound})))
	require.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	require.False(t, isNotFound(errors.New("boom")))
	require.ErrorContains(t, describeMetadataErr("table", "matching_evals", &googleapi.Error{Code: http.StatusNotFound}), `table "matching_evals" does not exist`)
}
