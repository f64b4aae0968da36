// Package sheets はGoogleスプレッドシートをログストアとして使う実装を提供する。
package sheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// valueClient はスプレッドシートの値の読み書き。テストではフェイクに差し替える。
type valueClient interface {
	Read(ctx context.Context, rng string) ([][]interface{}, error)
	Append(ctx context.Context, rng string, rows [][]interface{}) error
	Ping(ctx context.Context) error
}

// apiClient はSheets API v4を使うvalueClient。
type apiClient struct {
	svc           *gsheets.Service
	spreadsheetID string
}

// newAPIClient はSheets APIクライアントを生成する。
// credentialsJSONが空の場合はoptsだけで認証方法を決める。
func newAPIClient(ctx context.Context, spreadsheetID string, credentialsJSON []byte, opts ...option.ClientOption) (*apiClient, error) {
	all := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if len(credentialsJSON) > 0 {
		all = append(all, option.WithCredentialsJSON(credentialsJSON))
	}
	all = append(all, opts...)

	svc, err := gsheets.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &apiClient{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func (c *apiClient) Read(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// Append は行を末尾に追加する。
// 日付やゼロ始まりのコードが数値に変換されないようRAWで書き込む。
func (c *apiClient) Append(ctx context.Context, rng string, rows [][]interface{}) error {
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", rng, err)
	}
	return nil
}

func (c *apiClient) Ping(ctx context.Context) error {
	_, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}
	return nil
}

// sheetRange はシート名と列範囲からA1記法の範囲を組み立てる。
func sheetRange(sheet, cols string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cols
}

func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}
