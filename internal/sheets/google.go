package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// DefaultWritesPerMinute 对应 Sheets API 每用户每分钟 60 次写入的默认配额。
const DefaultWritesPerMinute = 60

// Credentials 二选一：JSON 优先（CI 注入的 secret），否则读 File。
type Credentials struct {
	JSON []byte
	File string
}

// GoogleBackend 是基于 Sheets API v4 的 Backend 实现。
type GoogleBackend struct {
	svc           *gsheets.Service
	spreadsheetID string
	limiter       *rate.Limiter

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewGoogleBackend 用服务账号凭据创建后端。writesPerMinute<=0 时使用默认值。
func NewGoogleBackend(ctx context.Context, spreadsheetID string, cred Credentials, writesPerMinute int) (*GoogleBackend, error) {
	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	switch {
	case len(cred.JSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cred.JSON))
	case strings.TrimSpace(cred.File) != "":
		opts = append(opts, option.WithCredentialsFile(cred.File))
	default:
		return nil, errors.New("缺少 Google 凭据")
	}
	return newGoogleBackend(ctx, spreadsheetID, writesPerMinute, opts...)
}

func newGoogleBackend(ctx context.Context, spreadsheetID string, writesPerMinute int, opts ...option.ClientOption) (*GoogleBackend, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("spreadsheet id 不能为空")
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 Sheets 客户端失败：%w", err)
	}
	if writesPerMinute <= 0 {
		writesPerMinute = DefaultWritesPerMinute
	}
	return &GoogleBackend{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(writesPerMinute)), 1),
		sheetIDs:      make(map[string]int64, len(Tabs)),
	}, nil
}

// EnsureTab 保证工作表存在且首行是表头。
//
// 新建与写表头是两次调用；任一次因配额失败被重试时，已存在的工作表会再检查首行，
// 首行为空才补写表头。
func (g *GoogleBackend) EnsureTab(ctx context.Context, tab string, header []string) (bool, error) {
	_, ok, err := g.sheetID(ctx, tab)
	if err != nil {
		return false, err
	}
	created := false
	if !ok {
		if err := g.addSheet(ctx, tab, len(header)); err != nil {
			return false, err
		}
		created = true
	}
	if err := g.ensureHeader(ctx, tab, header); err != nil {
		return created, err
	}
	return created, nil
}

func (g *GoogleBackend) addSheet(ctx context.Context, tab string, cols int) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &gsheets.BatchUpdateSpreadsheetRequest{Requests: []*gsheets.Request{{
		AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{
			Title:          tab,
			GridProperties: &gsheets.GridProperties{RowCount: 1000, ColumnCount: int64(cols)},
		}},
	}}}
	resp, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return classify("add_sheet", err)
	}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		g.mu.Lock()
		g.sheetIDs[tab] = resp.Replies[0].AddSheet.Properties.SheetId
		g.mu.Unlock()
	}
	return nil
}

func (g *GoogleBackend) ensureHeader(ctx context.Context, tab string, header []string) error {
	vr, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, headerRange(tab)).Context(ctx).Do()
	if err != nil {
		return classify("read_header", err)
	}
	if len(vr.Values) > 0 && len(vr.Values[0]) > 0 {
		return nil
	}
	return g.AppendRows(ctx, tab, [][]string{header})
}

func (g *GoogleBackend) ReadRows(ctx context.Context, tab string) ([][]string, error) {
	vr, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, tabRange(tab)).Context(ctx).Do()
	if err != nil {
		return nil, classify("read_rows", err)
	}
	out := make([][]string, 0, len(vr.Values))
	for _, row := range vr.Values {
		cells := make([]string, 0, len(row))
		for _, v := range row {
			cells = append(cells, fmt.Sprint(v))
		}
		out = append(out, cells)
	}
	return out, nil
}

// DeleteRows 在一次 batchUpdate 内按行号降序删除，保证前面的删除不影响后面的行号。
func (g *GoogleBackend) DeleteRows(ctx context.Context, tab string, ranges []RowRange) error {
	if len(ranges) == 0 {
		return nil
	}
	id, ok, err := g.sheetID(ctx, tab)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("工作表不存在：%s", tab)
	}

	reqs := make([]*gsheets.Request, 0, len(ranges))
	for i := len(ranges) - 1; i >= 0; i-- {
		r := ranges[i]
		reqs = append(reqs, &gsheets.Request{DeleteDimension: &gsheets.DeleteDimensionRequest{
			Range: &gsheets.DimensionRange{
				SheetId:         id,
				Dimension:       "ROWS",
				StartIndex:      int64(r.Start - 1),
				EndIndex:        int64(r.End),
				ForceSendFields: []string{"SheetId", "StartIndex"},
			},
		}})
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{Requests: reqs}).Context(ctx).Do()
	return classify("delete_rows", err)
}

// AppendRows 以 RAW 写入：日期保持字符串，不被表格自动转换。
func (g *GoogleBackend) AppendRows(ctx context.Context, tab string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		cells := make([]interface{}, 0, len(row))
		for _, c := range row {
			cells = append(cells, c)
		}
		values = append(values, cells)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, tabRange(tab), &gsheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return classify("append_rows", err)
}

func (g *GoogleBackend) sheetID(ctx context.Context, tab string) (int64, bool, error) {
	g.mu.Lock()
	id, ok := g.sheetIDs[tab]
	g.mu.Unlock()
	if ok {
		return id, true, nil
	}

	ss, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, false, classify("get_spreadsheet", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range ss.Sheets {
		if s.Properties == nil {
			continue
		}
		g.sheetIDs[s.Properties.Title] = s.Properties.SheetId
	}
	id, ok = g.sheetIDs[tab]
	return id, ok, nil
}

func tabRange(tab string) string {
	return quoteTab(tab) + "!A:G"
}

func headerRange(tab string) string {
	return quoteTab(tab) + "!A1:G1"
}

func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// classify 把配额类错误包装为 QuotaError；其它错误原样返回。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return &QuotaError{Op: op, Err: err}
		}
		for _, it := range gerr.Errors {
			switch it.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded":
				return &QuotaError{Op: op, Err: err}
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
