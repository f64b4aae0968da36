package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/hitoshi/roomgate/internal/admission"
	"github.com/hitoshi/roomgate/internal/checkin"
	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/repository"
)

// fakeClient はシートごとの行をメモリに保持するvalueClient。
type fakeClient struct {
	mu        sync.Mutex
	rows      map[string][][]interface{}
	readErr   error
	appendErr error
	appends   int
	// failOnce は範囲ごとに次の1回だけAppendを失敗させる
	failOnce map[string]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{rows: make(map[string][][]interface{}), failOnce: make(map[string]error)}
}

func (f *fakeClient) Read(_ context.Context, rng string) ([][]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([][]interface{}, len(f.rows[rng]))
	copy(out, f.rows[rng])
	return out, nil
}

func (f *fakeClient) Append(_ context.Context, rng string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	if err, ok := f.failOnce[rng]; ok {
		delete(f.failOnce, rng)
		return err
	}
	f.appends++
	f.rows[rng] = append(f.rows[rng], rows...)
	return nil
}

func (f *fakeClient) Ping(context.Context) error { return f.readErr }

var jst = time.FixedZone("JST", 9*60*60)

func newTestStore() (*Store, *fakeClient) {
	fc := newFakeClient()
	return newStore(fc, Config{SpreadsheetID: "sid", Location: jst}), fc
}

func TestStore_ReadsLegacyRows(t *testing.T) {
	s, fc := newTestStore()
	fc.rows[s.recordsRange()] = [][]interface{}{
		{"userId", "code", "date", "status"},
		{"U1", "1111", "2026-10-17", "入室"},
		{"U1", "", "2026-10-17", "退出"},
		{"U2", "2222", "2026-10-16", "入室"},
	}

	recs, err := s.listByDate(context.Background(), "2026-10-17")
	if err != nil {
		t.Fatalf("listByDate returned error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[0].Action != model.ActionEnter || recs[0].Code != "1111" {
		t.Errorf("recs[0] = %+v", recs[0])
	}
	if recs[1].Action != model.ActionExit {
		t.Errorf("recs[1].Action = %q, want exit", recs[1].Action)
	}
	if recs[0].Source != model.SourceChat {
		t.Errorf("Source = %q, want chat", recs[0].Source)
	}
}

func TestStore_WithinDateWritesRowsOnSuccess(t *testing.T) {
	s, fc := newTestStore()
	ts := time.Date(2026, 10, 17, 1, 2, 3, 0, time.UTC)

	err := s.WithinDate(context.Background(), "2026-10-17", func(ctx context.Context, tx repository.RecordTx) error {
		if err := tx.Append(ctx, &model.Record{
			ID: "id-1", Identity: "U1", Action: model.ActionEnter, Date: "2026-10-17",
			Timestamp: ts, Code: "0123", Source: model.SourceChat,
		}); err != nil {
			return err
		}
		recs, err := tx.ListByDate(ctx, "2026-10-17")
		if err != nil {
			return err
		}
		if len(recs) != 1 {
			t.Errorf("buffered records = %d, want 1", len(recs))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinDate returned error: %v", err)
	}

	rows := fc.rows[s.recordsRange()]
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	want := []interface{}{"U1", "0123", "2026-10-17", "入室", "10:02:03", "chat", "id-1"}
	for i := range want {
		if rows[0][i] != want[i] {
			t.Errorf("row[%d] = %v, want %v", i, rows[0][i], want[i])
		}
	}

	recs, _ := s.listByDate(context.Background(), "2026-10-17")
	if !recs[0].Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", recs[0].Timestamp, ts)
	}
}

func TestStore_WithinDateDiscardsOnError(t *testing.T) {
	s, fc := newTestStore()
	boom := errors.New("boom")

	err := s.WithinDate(context.Background(), "2026-10-17", func(ctx context.Context, tx repository.RecordTx) error {
		_ = tx.Append(ctx, &model.Record{Identity: "U1", Action: model.ActionEnter, Date: "2026-10-17"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if fc.appends != 0 {
		t.Errorf("appends = %d, want 0", fc.appends)
	}
}

func TestStore_RedeemReleaseCycle(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	red := &model.CodeRedemption{Code: "1234", Identity: "U1", RedeemedAt: time.Now()}

	ok, err := s.Redeem(ctx, red)
	if err != nil || !ok {
		t.Fatalf("first Redeem = %v, %v; want true, nil", ok, err)
	}
	if ok, _ := s.Redeem(ctx, red); ok {
		t.Error("second Redeem = true, want false")
	}
	if err := s.Release(ctx, "1234"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if ok, _ := s.Redeem(ctx, red); !ok {
		t.Error("Redeem after Release = false, want true")
	}
}

func TestStore_PaymentIdempotencyAndIssuedCode(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC) }
	engine := admission.NewEngine(s, 12, jst, admission.WithClock(clock))

	entry := admission.PaidEntry{Identity: "U1", Date: "2026-10-17", EventID: "evt_1", SessionID: "cs_1", Code: "4821"}
	if got, err := engine.AdmitPaid(ctx, entry); err != nil || got != model.OutcomeAdmitted {
		t.Fatalf("AdmitPaid = %q, %v; want admitted", got, err)
	}
	if got, err := engine.AdmitPaid(ctx, entry); err != nil || got != model.OutcomeDuplicateEvent {
		t.Errorf("replayed AdmitPaid = %q, %v; want duplicate", got, err)
	}

	issued, err := s.FindIssued(ctx, "U1", "4821")
	if err != nil {
		t.Fatalf("FindIssued returned error: %v", err)
	}
	if issued == nil || issued.PaymentEventID != "evt_1" || issued.Date != "2026-10-17" {
		t.Errorf("issued = %+v, want event evt_1 on 2026-10-17", issued)
	}
	if other, _ := s.FindIssued(ctx, "U2", "4821"); other != nil {
		t.Errorf("FindIssued for other identity = %+v, want nil", other)
	}

	recs, _ := s.listByDate(ctx, "2026-10-17")
	if len(recs) != 1 || recs[0].Source != model.SourcePayment {
		t.Errorf("records = %+v, want one payment record", recs)
	}
}

func TestStore_ReadFailureSurfaces(t *testing.T) {
	s, fc := newTestStore()
	fc.readErr = errors.New("quota exceeded")
	engine := admission.NewEngine(s, 12, jst)

	_, err := engine.TryEnter(context.Background(), "U1", "2026-10-17", "1111")
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestStore_SerializesSameDate(t *testing.T) {
	s, _ := newTestStore()
	engine := admission.NewEngine(s, 3, jst)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = engine.TryEnter(context.Background(), string(rune('A'+i)), "2026-10-17", "1111")
		}(i)
	}
	wg.Wait()

	recs, _ := s.listByDate(context.Background(), "2026-10-17")
	if len(recs) != 3 {
		t.Errorf("records = %d, want 3", len(recs))
	}
}

func TestSheetRange_QuotesName(t *testing.T) {
	if got := sheetRange("ログ", "A:G"); got != "'ログ'!A:G" {
		t.Errorf("sheetRange = %q", got)
	}
	if got := sheetRange("it's", "A:E"); got != "'it''s'!A:E" {
		t.Errorf("sheetRange = %q", got)
	}
}

func TestAPIClient_ReadAndAppend(t *testing.T) {
	var appended [][]interface{}
	var valueInput string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/sid/values/"):
			w.Write([]byte(`{"range":"'ログ'!A1:D1","majorDimension":"ROWS","values":[["U1","1111","2026-10-17","入室"]]}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
			valueInput = r.URL.Query().Get("valueInputOption")
			raw, _ := io.ReadAll(r.Body)
			var body struct {
				Values [][]interface{} `json:"values"`
			}
			_ = json.Unmarshal(raw, &body)
			appended = body.Values
			w.Write([]byte(`{"spreadsheetId":"sid"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := newAPIClient(context.Background(), "sid", nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("newAPIClient returned error: %v", err)
	}
	s := newStore(client, Config{SpreadsheetID: "sid", Location: jst})

	recs, err := s.listByDate(context.Background(), "2026-10-17")
	if err != nil {
		t.Fatalf("listByDate returned error: %v", err)
	}
	if len(recs) != 1 || recs[0].Identity != "U1" {
		t.Errorf("recs = %+v, want U1", recs)
	}

	ok, err := s.Redeem(context.Background(), &model.CodeRedemption{Code: "0042", Identity: "U1"})
	if err != nil || !ok {
		t.Fatalf("Redeem = %v, %v", ok, err)
	}
	if valueInput != "RAW" {
		t.Errorf("valueInputOption = %q, want RAW", valueInput)
	}
	if len(appended) != 1 || appended[0][1] != "0042" {
		t.Errorf("appended = %v, want code 0042 kept as text", appended)
	}
}

// 発行コードの追記に失敗した後の再送でも、利用者にドア暗証番号が届く
func TestStore_PaymentRetryAfterPartialFlush(t *testing.T) {
	s, fc := newTestStore()
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC) }
	engine := admission.NewEngine(s, 12, jst, admission.WithClock(clock))
	msgs := checkin.DefaultMessages(4, checkin.DefaultExitKeyword)

	fc.failOnce[s.codesRange()] = errors.New("quota exceeded")
	entry := admission.PaidEntry{Identity: "U1", Date: "2026-10-17", EventID: "evt_1", Code: "4821"}
	if _, err := engine.AdmitPaid(ctx, entry); !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("AdmitPaid error = %v, want ErrStoreUnavailable", err)
	}

	// 記録は残り、発行コードと決済イベントは残っていない
	recs, _ := s.listByDate(ctx, "2026-10-17")
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if issued, _ := s.FindIssued(ctx, "U1", "4821"); issued != nil {
		t.Fatalf("issued = %+v, want nil", issued)
	}

	// 再送はイベントIDが未登録のため処理され、入室済みと判定される
	entry.Code = "7310"
	outcome, err := engine.AdmitPaid(ctx, entry)
	if err != nil || outcome != model.OutcomeAlreadyEntered {
		t.Fatalf("retried AdmitPaid = %q, %v; want already_entered", outcome, err)
	}
	text := msgs.ForPayment(outcome, entry.Code, "5489")
	if !strings.Contains(text, "5489") {
		t.Errorf("push text = %q, want door code", text)
	}

	if got, _ := engine.AdmitPaid(ctx, entry); got != model.OutcomeDuplicateEvent {
		t.Errorf("third delivery = %q, want duplicate", got)
	}
	if recs, _ := s.listByDate(ctx, "2026-10-17"); len(recs) != 1 {
		t.Errorf("records after retries = %d, want 1", len(recs))
	}
}
