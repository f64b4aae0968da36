package code

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/repository"
)

// PoolValidator は一度だけ使えるコードのプールを受け付ける。
// 消費状態はストアに永続化し、条件付き書き込みで二重消費を防ぐ。
type PoolValidator struct {
	pool    map[string]struct{}
	pattern *regexp.Regexp
	codes   repository.CodeRepository
	now     func() time.Time
}

var _ Validator = (*PoolValidator)(nil)

// NewPoolValidator はPoolValidatorを生成する。
func NewPoolValidator(pool []string, pattern *regexp.Regexp, codes repository.CodeRepository, now func() time.Time) *PoolValidator {
	set := make(map[string]struct{}, len(pool))
	for _, c := range pool {
		set[c] = struct{}{}
	}
	return &PoolValidator{pool: set, pattern: pattern, codes: codes, now: now}
}

func (v *PoolValidator) Mode() model.CodeMode { return model.CodeModePool }

// Matches はプールに含まれるコード、または桁数が一致する数字列でtrueを返す。
func (v *PoolValidator) Matches(input string) bool {
	if _, ok := v.pool[input]; ok {
		return true
	}
	return v.pattern.MatchString(input)
}

// Accept はプール内のコードを消費する。
// 既に誰かが消費していればOutcomeCodeAlreadyUsedを返す。
func (v *PoolValidator) Accept(ctx context.Context, identity, input string) (Decision, error) {
	if _, ok := v.pool[input]; !ok {
		return rejected(model.OutcomeInvalidCode), nil
	}
	ok, err := v.codes.Redeem(ctx, &model.CodeRedemption{
		Code:       input,
		Identity:   identity,
		RedeemedAt: v.now(),
	})
	if err != nil {
		return Decision{}, model.StoreError("redeem code", err)
	}
	if !ok {
		return rejected(model.OutcomeCodeAlreadyUsed), nil
	}
	return accepted, nil
}

// Release は消費記録を削除し、コードを再び使える状態に戻す。
func (v *PoolValidator) Release(ctx context.Context, _ string, input string) error {
	if _, ok := v.pool[input]; !ok {
		return nil
	}
	if err := v.codes.Release(ctx, input); err != nil {
		return model.StoreError("release code", fmt.Errorf("code %s: %w", input, err))
	}
	return nil
}
