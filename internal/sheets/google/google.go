// Package google implements the sheets port on the Google Sheets v4 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"gastos/internal/cache"
	"gastos/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const (
	metadataCacheSize = 256
	metadataTTL       = 10 * time.Minute
)

// Options configure the client. Credentials come from CredentialsJSON, then
// CredentialsFile.
type Options struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// title -> sheetId
	sheetIDs *cache.LRU[int64]
}

var _ sheets.Spreadsheet = (*Client)(nil)

// New creates a client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, opts.SpreadsheetID), nil
}

// NewWithService wraps an existing service, e.g. one pointed at a test server.
func NewWithService(svc *gsheet.Service, spreadsheetID string) *Client {
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetIDs:      cache.NewLRU[int64](metadataCacheSize, metadataTTL),
	}
}

func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	credentialsJSON := []byte(strings.TrimSpace(opts.CredentialsJSON))
	if len(credentialsJSON) == 0 {
		path := strings.TrimSpace(opts.CredentialsFile)
		if path == "" {
			path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
		}
		if path == "" {
			return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
		}
		var err error
		credentialsJSON, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.InfoContext(ctx, "Read credentials file", "path", path, "size", len(credentialsJSON))
	}

	return gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()),
	)
}

// newHTTPClientWithPooling keeps connections to the Sheets API warm across
// pushes.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// a1 quotes a sheet title for use in A1 notation.
func a1(sheet, rng string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + rng
}

func (c *Client) ListSheets(ctx context.Context) ([]string, error) {
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet: %w", err)
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties == nil {
			continue
		}
		titles = append(titles, s.Properties.Title)
		c.sheetIDs.Set(s.Properties.Title, s.Properties.SheetId)
	}
	return titles, nil
}

func (c *Client) sheetID(ctx context.Context, name string) (int64, bool, error) {
	if id, ok := c.sheetIDs.Get(name); ok {
		return id, true, nil
	}
	if _, err := c.ListSheets(ctx); err != nil {
		return 0, false, err
	}
	id, ok := c.sheetIDs.Get(name)
	return id, ok, nil
}

func (c *Client) EnsureSheet(ctx context.Context, name string, header []string) error {
	_, exists, err := c.sheetID(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: name}},
		}}}
		resp, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("add sheet %q: %w", name, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
			c.sheetIDs.Set(name, resp.Replies[0].AddSheet.Properties.SheetId)
		}
		slog.InfoContext(ctx, "Created sheet", "sheet", name)
		return c.writeRow(ctx, name, 1, toCells(header))
	}

	vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1(name, "1:1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header %q: %w", name, err)
	}
	if len(vr.Values) == 0 || len(vr.Values[0]) == 0 {
		return c.writeRow(ctx, name, 1, toCells(header))
	}
	if !sheets.SameHeader(vr.Values[0], header) {
		return fmt.Errorf("%w: %q", sheets.ErrHeaderMismatch, name)
	}
	return nil
}

func (c *Client) ListRows(ctx context.Context, sheet string) ([]sheets.Row, error) {
	vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1(sheet, "A2:Z")).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read rows %q: %w", sheet, err)
	}
	rows := make([]sheets.Row, 0, len(vr.Values))
	for _, cells := range vr.Values {
		if len(cells) == 0 || sheets.CellString(cells[0]) == "" {
			continue
		}
		rows = append(rows, sheets.NewRow(cells...))
	}
	return rows, nil
}

// keyRows returns the 1-based sheet rows whose column A equals key.
func (c *Client) keyRows(ctx context.Context, sheet, key string) ([]int64, error) {
	vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1(sheet, "A:A")).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read keys %q: %w", sheet, err)
	}
	var out []int64
	for i, cells := range vr.Values {
		if i == 0 || len(cells) == 0 {
			continue
		}
		if sheets.CellString(cells[0]) == key {
			out = append(out, int64(i+1))
		}
	}
	return out, nil
}

func (c *Client) UpsertRow(ctx context.Context, sheet string, row sheets.Row) error {
	matches, err := c.keyRows(ctx, sheet, row.Key)
	if err != nil {
		return err
	}
	if len(matches) > 0 {
		return c.writeRow(ctx, sheet, matches[0], row.Cells)
	}
	vr := &gsheet.ValueRange{Values: [][]interface{}{row.Cells}}
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1(sheet, "A1"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append row %q: %w", sheet, err)
	}
	return nil
}

func (c *Client) writeRow(ctx context.Context, sheet string, n int64, cells []any) error {
	vr := &gsheet.ValueRange{Values: [][]interface{}{cells}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, a1(sheet, fmt.Sprintf("A%d", n)), vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write row %d %q: %w", n, sheet, err)
	}
	return nil
}

func (c *Client) DeleteRow(ctx context.Context, sheet, key string) (int, error) {
	id, ok, err := c.sheetID(ctx, sheet)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, sheets.ErrSheetNotFound
	}
	matches, err := c.keyRows(ctx, sheet, key)
	if err != nil || len(matches) == 0 {
		return 0, err
	}
	// Bottom-up so earlier deletions do not shift later indexes.
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	reqs := make([]*gsheet.Request, 0, len(matches))
	for _, n := range matches {
		reqs = append(reqs, &gsheet.Request{DeleteDimension: &gsheet.DeleteDimensionRequest{
			Range: &gsheet.DimensionRange{
				SheetId:    id,
				Dimension:  "ROWS",
				StartIndex: n - 1,
				EndIndex:   n,
			},
		}})
	}
	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID,
		&gsheet.BatchUpdateSpreadsheetRequest{Requests: reqs}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("delete rows %q: %w", sheet, err)
	}
	return len(matches), nil
}

func toCells(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
