// Package bigquery streams eval rows into the analytics warehouse.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errDatasetRequired   = errors.New("bigquery dataset is required")
	errNoEvalTables      = errors.New("at least one eval table must be configured")
	errUnknownTable      = errors.New("table is not an eval table")
	errNotInitialized    = errors.New("bigquery client not initialized")
)

// evalTables names the two warehouse tables. An empty name disables that stream.
type evalTables struct {
	location string
	matching string
}

func resolveTables(cfg config.BigQueryConfig) (evalTables, error) {
	t := evalTables{
		location: strings.TrimSpace(cfg.LocationEvalsTable),
		matching: strings.TrimSpace(cfg.MatchingEvalsTable),
	}
	if t.location == "" && t.matching == "" {
		return t, errNoEvalTables
	}
	return t, nil
}

func (t evalTables) names() []string {
	out := make([]string, 0, 2)
	for _, n := range []string{t.location, t.matching} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (t evalTables) has(name string) bool {
	return name != "" && (name == t.location || name == t.matching)
}

// Client writes location and matching evals to a single dataset.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	tables  evalTables
}

// NewClient connects and verifies that the dataset and every configured eval table exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	tables, err := resolveTables(cfg)
	if err != nil {
		return nil, err
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{client: bqClient, dataset: bqClient.Dataset(datasetID), tables: tables}
	if err := c.verify(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"dataset": datasetID,
			"tables":  tables.names(),
		})
		logg.Info(ctx, "bigquery eval sink ready")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func (c *Client) verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return describeMetadataErr("dataset", c.dataset.DatasetID, err)
	}
	for _, name := range c.tables.names() {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return describeMetadataErr("table", name, err)
		}
	}
	return nil
}

func describeMetadataErr(kind, name string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// Ping re-checks the dataset and tables; used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	return c.verify(ctx)
}

// InsertRows streams rows into one of the eval tables. Partial failures are
// summarized so a single bad row does not flood the logs.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	if !c.tables.has(table) {
		return fmt.Errorf("%w: %q", errUnknownTable, table)
	}
	if len(rows) == 0 {
		return nil
	}
	err := c.dataset.Table(table).Inserter().Put(ctx, rows)
	return summarizeInsertErr(table, len(rows), err)
}

func summarizeInsertErr(table string, total int, err error) error {
	if err == nil {
		return nil
	}
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) && len(multi) > 0 {
		return fmt.Errorf("insert into %s: %d of %d rows rejected: %w", table, len(multi), total, multi[0].Errors)
	}
	return fmt.Errorf("insert into %s: %w", table, err)
}

// LocationEvalsTable is empty when location evals are not streamed.
func (c *Client) LocationEvalsTable() string { return c.tables.location }

// MatchingEvalsTable is empty when matching evals are not streamed.
func (c *Client) MatchingEvalsTable() string { return c.tables.matching }

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
