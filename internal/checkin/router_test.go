package checkin

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/roomgate/internal/admission"
	"github.com/hitoshi/roomgate/internal/code"
	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/repository/memory"
)

// --- モック ---

type mockEngine struct {
	tryEnterFn func(ctx context.Context, identity, date, code string) (model.Outcome, error)
	tryExitFn  func(ctx context.Context, identity, date string) (model.Outcome, error)
}

func (m *mockEngine) Today() string { return "2026-10-17" }
func (m *mockEngine) TryEnter(ctx context.Context, identity, date, code string) (model.Outcome, error) {
	return m.tryEnterFn(ctx, identity, date, code)
}
func (m *mockEngine) TryExit(ctx context.Context, identity, date string) (model.Outcome, error) {
	return m.tryExitFn(ctx, identity, date)
}

type mockCheckout struct {
	createFn func(ctx context.Context, identity string) (string, error)
}

func (m *mockCheckout) CreateCheckout(ctx context.Context, identity string) (string, error) {
	return m.createFn(ctx, identity)
}

type mockThrottler struct {
	allow bool
}

func (m *mockThrottler) AllowIdentity(string) bool { return m.allow }

type fixture struct {
	router *Router
	store  *memory.Store
}

func newFixture(t *testing.T, capacity int, codeCfg code.Config, doorCode string, opts ...Option) fixture {
	t.Helper()
	store := memory.New()
	clock := func() time.Time { return time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC) }
	engine := admission.NewEngine(store, capacity, time.UTC, admission.WithClock(clock))
	validator, err := code.New(codeCfg, store)
	if err != nil {
		t.Fatalf("code.New returned error: %v", err)
	}
	r := NewRouter(engine, validator, Config{
		DoorCode: doorCode,
		Messages: DefaultMessages(4, DefaultExitKeyword),
	}, opts...)
	return fixture{router: r, store: store}
}

func sharedCode(c string) code.Config {
	return code.Config{Mode: model.CodeModeShared, SharedCode: c, Length: 4}
}

func handle(t *testing.T, r *Router, identity, text string) Reply {
	t.Helper()
	reply, err := r.Handle(context.Background(), identity, text)
	if err != nil {
		t.Fatalf("Handle(%q, %q) returned error: %v", identity, text, err)
	}
	return reply
}

// 定員2、コード1111で A, B は入室でき、C は満員で記録されない
func TestRouter_CapacityScenario(t *testing.T) {
	f := newFixture(t, 2, sharedCode("1111"), "")
	msgs := DefaultMessages(4, DefaultExitKeyword)

	for _, id := range []string{"A", "B"} {
		reply := handle(t, f.router, id, "1111")
		if reply.Outcome != model.OutcomeAdmitted {
			t.Errorf("%s outcome = %q, want %q", id, reply.Outcome, model.OutcomeAdmitted)
		}
		if !strings.Contains(reply.Text, msgs.Admitted) {
			t.Errorf("%s reply = %q, want to contain %q", id, reply.Text, msgs.Admitted)
		}
	}

	reply := handle(t, f.router, "C", "1111")
	if reply.Outcome != model.OutcomeFull {
		t.Errorf("C outcome = %q, want %q", reply.Outcome, model.OutcomeFull)
	}
	if reply.Text != msgs.Full {
		t.Errorf("C reply = %q, want %q", reply.Text, msgs.Full)
	}

	for _, rec := range f.store.Records() {
		if rec.Identity == "C" {
			t.Errorf("record appended for C: %+v", rec)
		}
	}
}

// 入室前に退出キーワードを送るとNotEnteredで記録されない
func TestRouter_ExitBeforeEnter(t *testing.T) {
	f := newFixture(t, 12, sharedCode("1111"), "")

	reply := handle(t, f.router, "A", "退出")
	if reply.Outcome != model.OutcomeNotEntered {
		t.Errorf("outcome = %q, want %q", reply.Outcome, model.OutcomeNotEntered)
	}
	if reply.Text != "本日はまだ入室していません。" {
		t.Errorf("reply = %q", reply.Text)
	}
	if n := len(f.store.Records()); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}

func TestRouter_FullFlowWithDoorCode(t *testing.T) {
	f := newFixture(t, 12, sharedCode("1111"), "5489")

	steps := []struct {
		text string
		want string
	}{
		{"1111", "入室が確認されました。ドア暗証番号は「5489」です。"},
		{"1111", "今日はすでに入室済みです。"},
		{"退出", "退出が確認されました。ご利用ありがとうございました。"},
		{"退出", "今日はすでに退出済みです。"},
	}
	for _, s := range steps {
		if got := handle(t, f.router, "A", s.text).Text; got != s.want {
			t.Errorf("Handle(%q) = %q, want %q", s.text, got, s.want)
		}
	}
}

func TestRouter_UnrecognizedInputRepliesUsage(t *testing.T) {
	f := newFixture(t, 12, sharedCode("1111"), "")

	for _, text := range []string{"こんにちは", "12345", "", "決済"} {
		reply := handle(t, f.router, "A", text)
		if reply.Intent != IntentUnrecognized {
			t.Errorf("Handle(%q) intent = %v, want unrecognized", text, reply.Intent)
		}
		if reply.Text != "4桁の入室コードまたは「退出」と送ってください。" {
			t.Errorf("Handle(%q) = %q", text, reply.Text)
		}
	}
	if n := len(f.store.Records()); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}

func TestRouter_WrongSharedCodeIsInvalid(t *testing.T) {
	f := newFixture(t, 12, sharedCode("1111"), "")

	reply := handle(t, f.router, "A", "2222")
	if reply.Outcome != model.OutcomeInvalidCode {
		t.Errorf("outcome = %q, want %q", reply.Outcome, model.OutcomeInvalidCode)
	}
	if n := len(f.store.Records()); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}

// 全角数字や前後の空白があっても受け付ける
func TestRouter_NormalizesFullWidthInput(t *testing.T) {
	f := newFixture(t, 12, sharedCode("1111"), "")

	reply := handle(t, f.router, "A", "　１１１１ ")
	if reply.Outcome != model.OutcomeAdmitted {
		t.Errorf("outcome = %q, want %q", reply.Outcome, model.OutcomeAdmitted)
	}
	if got := f.store.Records()[0].Code; got != "1111" {
		t.Errorf("stored code = %q, want %q", got, "1111")
	}
}

func TestRouter_PoolCodeSingleUse(t *testing.T) {
	f := newFixture(t, 12, code.Config{Mode: model.CodeModePool, Pool: []string{"1234", "5678"}}, "")

	if got := handle(t, f.router, "A", "1234").Outcome; got != model.OutcomeAdmitted {
		t.Fatalf("A outcome = %q, want admitted", got)
	}
	if got := handle(t, f.router, "B", "1234").Outcome; got != model.OutcomeCodeAlreadyUsed {
		t.Errorf("B outcome = %q, want %q", got, model.OutcomeCodeAlreadyUsed)
	}
	if got := handle(t, f.router, "B", "0000").Outcome; got != model.OutcomeInvalidCode {
		t.Errorf("B outcome = %q, want %q", got, model.OutcomeInvalidCode)
	}
}

// 入室済みの人が別のコードを送っても、そのコードは消費されない
func TestRouter_PoolCodeReleasedWhenNotAdmitted(t *testing.T) {
	f := newFixture(t, 12, code.Config{Mode: model.CodeModePool, Pool: []string{"1234", "5678"}}, "")

	handle(t, f.router, "A", "1234")
	if got := handle(t, f.router, "A", "5678").Outcome; got != model.OutcomeAlreadyEntered {
		t.Fatalf("outcome = %q, want %q", got, model.OutcomeAlreadyEntered)
	}
	if got := handle(t, f.router, "B", "5678").Outcome; got != model.OutcomeAdmitted {
		t.Errorf("B outcome = %q, want %q", got, model.OutcomeAdmitted)
	}
}

func TestRouter_PayKeywordRepliesCheckoutURL(t *testing.T) {
	checkout := &mockCheckout{
		createFn: func(ctx context.Context, identity string) (string, error) {
			if identity != "A" {
				t.Errorf("identity = %q, want %q", identity, "A")
			}
			return "https://checkout.example/cs_1", nil
		},
	}
	f := newFixture(t, 12, sharedCode("1111"), "", WithCheckout(checkout))

	reply := handle(t, f.router, "A", "決済")
	if reply.Intent != IntentPay {
		t.Errorf("intent = %v, want pay", reply.Intent)
	}
	if !strings.Contains(reply.Text, "https://checkout.example/cs_1") {
		t.Errorf("reply = %q, want checkout URL", reply.Text)
	}
}

func TestRouter_CheckoutFailureReturnsError(t *testing.T) {
	checkout := &mockCheckout{
		createFn: func(ctx context.Context, identity string) (string, error) {
			return "", errors.New("stripe down")
		},
	}
	f := newFixture(t, 12, sharedCode("1111"), "", WithCheckout(checkout))

	if _, err := f.router.Handle(context.Background(), "A", "決済"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestRouter_ThrottledIdentity(t *testing.T) {
	f := newFixture(t, 12, sharedCode("1111"), "", WithThrottler(&mockThrottler{allow: false}))

	reply := handle(t, f.router, "A", "1111")
	if reply.Text != DefaultMessages(4, DefaultExitKeyword).Throttled {
		t.Errorf("reply = %q, want throttled message", reply.Text)
	}
	if n := len(f.store.Records()); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}

func TestRouter_StoreFailurePropagates(t *testing.T) {
	engine := &mockEngine{
		tryEnterFn: func(ctx context.Context, identity, date, code string) (model.Outcome, error) {
			return "", model.StoreError("enter", errors.New("timeout"))
		},
		tryExitFn: func(ctx context.Context, identity, date string) (model.Outcome, error) {
			return "", model.StoreError("exit", errors.New("timeout"))
		},
	}
	validator, _ := code.New(sharedCode("1111"), nil)
	r := NewRouter(engine, validator, Config{Messages: DefaultMessages(4, DefaultExitKeyword)})

	for _, text := range []string{"1111", "退出"} {
		reply, err := r.Handle(context.Background(), "A", text)
		if !errors.Is(err, model.ErrStoreUnavailable) {
			t.Errorf("Handle(%q) err = %v, want ErrStoreUnavailable", text, err)
		}
		if reply.Text != "" {
			t.Errorf("Handle(%q) reply = %q, want empty", text, reply.Text)
		}
	}
}

func TestRouter_CustomKeywords(t *testing.T) {
	engine := &mockEngine{
		tryExitFn: func(ctx context.Context, identity, date string) (model.Outcome, error) {
			return model.OutcomeExited, nil
		},
	}
	validator, _ := code.New(sharedCode("1111"), nil)
	r := NewRouter(engine, validator, Config{ExitKeyword: "bye", Messages: DefaultMessages(4, "bye")})

	if intent, _ := r.Classify(" ｂｙｅ "); intent != IntentExit {
		t.Errorf("Classify(bye) = %v, want exit", intent)
	}
	if intent, _ := r.Classify("退出"); intent != IntentUnrecognized {
		t.Errorf("Classify(退出) = %v, want unrecognized", intent)
	}
}

// 決済で発行したコードを翌日以降に送っても入室できない
func TestRouter_PaymentCodeValidOnlyOnPaidDay(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	now := time.Date(2026, 10, 16, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.New()
	engine := admission.NewEngine(store, 12, jst, admission.WithClock(clock))
	validator := code.NewPaymentValidator(regexp.MustCompile(`^\d{4}$`), store, jst, clock)
	r := NewRouter(engine, validator, Config{Messages: DefaultMessages(4, DefaultExitKeyword)})

	ctx := context.Background()
	outcome, err := engine.AdmitPaid(ctx, admission.PaidEntry{
		Identity: "X", Date: engine.Today(), EventID: "evt_1", Code: "4821",
	})
	if err != nil || outcome != model.OutcomeAdmitted {
		t.Fatalf("AdmitPaid = %q, %v; want admitted", outcome, err)
	}

	if reply := handle(t, r, "X", "4821"); reply.Outcome != model.OutcomeAlreadyEntered {
		t.Errorf("same day outcome = %q, want %q", reply.Outcome, model.OutcomeAlreadyEntered)
	}

	for day := 1; day <= 3; day++ {
		now = now.Add(24 * time.Hour)
		if reply := handle(t, r, "X", "4821"); reply.Outcome != model.OutcomeInvalidCode {
			t.Errorf("day +%d outcome = %q, want %q", day, reply.Outcome, model.OutcomeInvalidCode)
		}
	}

	if n := len(store.Records()); n != 1 {
		t.Errorf("enter records after one payment = %d, want 1", n)
	}
}
