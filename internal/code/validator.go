// Package code は入室コードの受理方式を提供する。
// 方式は設定のCODE_MODEで選択する。
package code

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/repository"
)

// DefaultLength は入室コードの桁数のデフォルト値。
const DefaultLength = 4

// Decision はコード検証の結果。
type Decision struct {
	Accepted  bool
	Rejection model.Outcome // Accepted=falseのときOutcomeInvalidCodeかOutcomeCodeAlreadyUsed
}

var accepted = Decision{Accepted: true}

func rejected(o model.Outcome) Decision {
	return Decision{Rejection: o}
}

// Validator は入室コードの受理方式。
type Validator interface {
	// Mode は受理方式を返す。
	Mode() model.CodeMode

	// Matches は入力がコードとして扱う形式かを返す。
	// falseの場合はコード送信ではなく認識できない入力として扱う。
	Matches(input string) bool

	// Accept はidentityが送ったinputを検証する。
	// 使い捨て方式では受理と同時に消費を記録する。
	Accept(ctx context.Context, identity, input string) (Decision, error)

	// Release はAcceptで記録した消費を取り消す。入室に至らなかった場合に呼ぶ。
	Release(ctx context.Context, identity, input string) error
}

// Config はValidatorの生成に必要な設定。
type Config struct {
	Mode       model.CodeMode
	Length     int
	SharedCode string
	Pool       []string
	// Location は決済方式で発行コードの有効日を判定するタイムゾーン。nilの場合はUTC
	Location *time.Location
}

// New は設定に応じたValidatorを生成する。
func New(cfg Config, codes repository.CodeRepository) (Validator, error) {
	length := cfg.Length
	if length <= 0 {
		length = DefaultLength
	}
	pattern := regexp.MustCompile(fmt.Sprintf(`^\d{%d}$`, length))

	switch cfg.Mode {
	case model.CodeModeShared, "":
		if cfg.SharedCode == "" {
			return nil, fmt.Errorf("shared code mode requires a code")
		}
		return &SharedValidator{code: cfg.SharedCode, pattern: pattern}, nil
	case model.CodeModePool:
		if len(cfg.Pool) == 0 {
			return nil, fmt.Errorf("pool code mode requires at least one code")
		}
		return NewPoolValidator(cfg.Pool, pattern, codes, time.Now), nil
	case model.CodeModePayment:
		return NewPaymentValidator(pattern, codes, cfg.Location, time.Now), nil
	default:
		return nil, fmt.Errorf("unknown code mode: %q", cfg.Mode)
	}
}
