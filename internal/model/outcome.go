package model

// Outcome は入退室判定およびコード検証の業務上の結果を表す。
// エラーではなく値として扱い、Event Routerでユーザー向けの返信に変換する。
type Outcome string

const (
	OutcomeAdmitted       Outcome = "admitted"
	OutcomeAlreadyEntered Outcome = "already_entered"
	OutcomeFull           Outcome = "full"

	OutcomeExited        Outcome = "exited"
	OutcomeNotEntered    Outcome = "not_entered"
	OutcomeAlreadyExited Outcome = "already_exited"

	OutcomeInvalidCode     Outcome = "invalid_code"
	OutcomeCodeAlreadyUsed Outcome = "code_already_used"

	// OutcomeDuplicateEvent は同じ決済イベントが再送されたことを示す。
	OutcomeDuplicateEvent Outcome = "duplicate_event"
)
