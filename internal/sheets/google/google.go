package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"papelflow/internal/core"
	ports "papelflow/internal/sheets"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Columns of a ledger sheet, A through H.
const (
	colDate = iota
	colTransactionID
	colKind
	colAmount
	colAccount
	colDestination
	colCategory
	colPayee
	numCols
)

const defaultCacheDuration = 5 * time.Minute

// Client mirrors ledger rows into one sheet per year ("2026 Ledger").
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string

	// Row index cache: sheet name -> transaction id -> 0-based row index.
	mu                 sync.Mutex
	rowIndex           map[string]map[string]int
	cacheExpiresAt     map[string]time.Time
	cacheValidDuration time.Duration
	now                func() time.Time
}

var _ ports.Mirror = (*Client)(nil)

func newClient(svc *gsheet.Service, spreadsheetID, sheetBase string) *Client {
	if strings.TrimSpace(sheetBase) == "" {
		sheetBase = "Ledger"
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		sheetBase:          strings.TrimSpace(sheetBase),
		rowIndex:           make(map[string]map[string]int),
		cacheExpiresAt:     make(map[string]time.Time),
		cacheValidDuration: defaultCacheDuration,
		now:                time.Now,
	}
}

// NewFromEnv creates a Sheets client from the environment.
// Required: GOOGLE_SPREADSHEET_ID
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
// Optional: GOOGLE_SHEET_NAME (default "Ledger").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, spreadsheetID, os.Getenv("GOOGLE_SHEET_NAME")), nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (c *Client) sheetFor(year int) string {
	return yearPrefixedName(c.sheetBase, year)
}

// Append adds the row unless its transaction id is already mirrored.
func (c *Client) Append(ctx context.Context, r ports.Row) (string, error) {
	if r.TransactionID == "" {
		return "", errors.New("row needs a transaction id")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	sheet := c.sheetFor(r.Date.Year())

	idx, ok, err := c.lookup(ctx, sheet, r.TransactionID)
	if err != nil {
		return "", err
	}
	if ok {
		return rowRef(sheet, idx), nil
	}

	vr := &gsheet.ValueRange{Values: [][]any{rowValues(r)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:H", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}
	c.invalidateRowCache(sheet)

	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return sheet, nil
}

// Remove deletes the row of r's transaction from the sheet of r's year.
func (c *Client) Remove(ctx context.Context, r ports.Row) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheet := c.sheetFor(r.Date.Year())

	idx, ok, err := c.lookup(ctx, sheet, r.TransactionID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	sheetID, err := c.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(idx),
					EndIndex:   int64(idx + 1),
					// Zero is a valid sheet id and row index.
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d in %s: %w", idx+1, sheet, err)
	}
	c.invalidateRowCache(sheet)
	return nil
}

// ListMonth reads the rows of the month's year sheet and keeps that month.
func (c *Client) ListMonth(ctx context.Context, m core.Month) ([]ports.Row, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	values, err := c.readAll(ctx, c.sheetFor(m.Year))
	if err != nil {
		return nil, err
	}
	var out []ports.Row
	for _, raw := range values {
		r, ok := parseRow(toStrings(raw))
		if ok && m.Contains(r.Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) readAll(ctx context.Context, sheet string) ([][]any, error) {
	rng := sheet + "!A:H"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (c *Client) sheetID(ctx context.Context, sheet string) (int64, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheet {
			return s.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", sheet)
}

// lookup finds the row index of a transaction, refreshing the cached index
// of the sheet when it has expired.
func (c *Client) lookup(ctx context.Context, sheet, transactionID string) (int, bool, error) {
	if idx, ok, fresh := c.cachedIndex(sheet, transactionID); fresh {
		return idx, ok, nil
	}
	values, err := c.readAll(ctx, sheet)
	if err != nil {
		return 0, false, err
	}
	index := indexRows(values)
	c.storeIndex(sheet, index)
	idx, ok := index[transactionID]
	return idx, ok, nil
}

func (c *Client) cachedIndex(sheet, transactionID string) (idx int, ok, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.now().Before(c.cacheExpiresAt[sheet]) {
		return 0, false, false
	}
	idx, ok = c.rowIndex[sheet][transactionID]
	return idx, ok, true
}

func (c *Client) storeIndex(sheet string, index map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rowIndex[sheet] = index
	c.cacheExpiresAt[sheet] = c.now().Add(c.cacheValidDuration)
}

func (c *Client) invalidateRowCache(sheet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rowIndex, sheet)
	delete(c.cacheExpiresAt, sheet)
}

// indexRows maps transaction ids in column B to their 0-based row index.
func indexRows(values [][]any) map[string]int {
	index := make(map[string]int, len(values))
	for i, raw := range values {
		cols := toStrings(raw)
		if len(cols) <= colTransactionID || cols[colTransactionID] == "" {
			continue
		}
		if _, seen := index[cols[colTransactionID]]; !seen {
			index[cols[colTransactionID]] = i
		}
	}
	return index
}

func rowValues(r ports.Row) []any {
	v := make([]any, numCols)
	v[colDate] = r.Date.String()
	v[colTransactionID] = r.TransactionID
	v[colKind] = r.Kind
	v[colAmount] = r.Amount.StringFixed(2)
	v[colAccount] = r.AccountID
	v[colDestination] = r.DestinationID
	v[colCategory] = r.CategoryID
	v[colPayee] = r.Payee
	return v
}

// parseRow reverses rowValues. Header and malformed rows report false.
func parseRow(cols []string) (ports.Row, bool) {
	if len(cols) <= colAmount {
		return ports.Row{}, false
	}
	d, err := core.ParseDate(cols[colDate])
	if err != nil {
		return ports.Row{}, false
	}
	amount, ok := parseAmount(cols[colAmount])
	if !ok || cols[colTransactionID] == "" {
		return ports.Row{}, false
	}
	return ports.Row{
		TransactionID: cols[colTransactionID],
		Date:          d,
		Kind:          cols[colKind],
		Amount:        amount,
		AccountID:     safeGet(cols, colAccount),
		DestinationID: safeGet(cols, colDestination),
		CategoryID:    safeGet(cols, colCategory),
		Payee:         safeGet(cols, colPayee),
	}, true
}

// parseAmount accepts what USER_ENTERED cells read back as: "1234.5",
// "1,234.50" or a decimal comma "1234,50".
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func rowRef(sheet string, idx int) string {
	return fmt.Sprintf("%s!A%d:H%d", sheet, idx+1, idx+1)
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
