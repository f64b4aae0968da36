package code

import (
	"context"
	"regexp"
	"time"

	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/repository"
)

// PaymentValidator は決済完了後に発行されたコードを受け付ける。
// 発行先のidentity以外が送った場合や、入室を認めた日以外に送られた場合は
// OutcomeInvalidCodeになる。同じ日の再送は入室判定の重複チェックに任せる。
type PaymentValidator struct {
	pattern *regexp.Regexp
	codes   repository.CodeRepository
	loc     *time.Location
	now     func() time.Time
}

var _ Validator = (*PaymentValidator)(nil)

// NewPaymentValidator はPaymentValidatorを生成する。locがnilの場合はUTCで日付を判定する。
func NewPaymentValidator(pattern *regexp.Regexp, codes repository.CodeRepository, loc *time.Location, now func() time.Time) *PaymentValidator {
	if loc == nil {
		loc = time.UTC
	}
	return &PaymentValidator{pattern: pattern, codes: codes, loc: loc, now: now}
}

func (v *PaymentValidator) Mode() model.CodeMode { return model.CodeModePayment }

func (v *PaymentValidator) Matches(input string) bool {
	return v.pattern.MatchString(input)
}

func (v *PaymentValidator) Accept(ctx context.Context, identity, input string) (Decision, error) {
	issued, err := v.codes.FindIssued(ctx, identity, input)
	if err != nil {
		return Decision{}, model.StoreError("find issued code", err)
	}
	if issued == nil || issued.Date != v.now().In(v.loc).Format(model.DateLayout) {
		return rejected(model.OutcomeInvalidCode), nil
	}
	return accepted, nil
}

func (v *PaymentValidator) Release(context.Context, string, string) error { return nil }
