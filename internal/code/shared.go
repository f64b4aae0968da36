package code

import (
	"context"
	"regexp"

	"github.com/hitoshi/roomgate/internal/model"
)

// SharedValidator は全員共通の固定コードを受け付ける。
// 何度でも使え、identityには依存しない。
type SharedValidator struct {
	code    string
	pattern *regexp.Regexp
}

var _ Validator = (*SharedValidator)(nil)

func (v *SharedValidator) Mode() model.CodeMode { return model.CodeModeShared }

// Matches は固定コードそのもの、または桁数が一致する数字列でtrueを返す。
func (v *SharedValidator) Matches(input string) bool {
	return input == v.code || v.pattern.MatchString(input)
}

func (v *SharedValidator) Accept(_ context.Context, _ string, input string) (Decision, error) {
	if input != v.code {
		return rejected(model.OutcomeInvalidCode), nil
	}
	return accepted, nil
}

func (v *SharedValidator) Release(context.Context, string, string) error { return nil }
