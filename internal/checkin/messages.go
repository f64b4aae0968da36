package checkin

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/roomgate/internal/model"
)

// Messages は利用者への返信文面。
// {door_code}、{code}、{url} はそれぞれ送信時に置換される。
type Messages struct {
	Admitted        string `yaml:"admitted"`
	DoorCode        string `yaml:"door_code"`
	AlreadyEntered  string `yaml:"already_entered"`
	Full            string `yaml:"full"`
	Exited          string `yaml:"exited"`
	NotEntered      string `yaml:"not_entered"`
	AlreadyExited   string `yaml:"already_exited"`
	InvalidCode     string `yaml:"invalid_code"`
	CodeAlreadyUsed string `yaml:"code_already_used"`
	Usage           string `yaml:"usage"`
	Throttled       string `yaml:"throttled"`

	Checkout           string `yaml:"checkout"`
	PaidAdmitted       string `yaml:"paid_admitted"`
	PaidFull           string `yaml:"paid_full"`
	PaidAlreadyEntered string `yaml:"paid_already_entered"`
}

// DefaultMessages は日本語のデフォルト文面を返す。
// 案内文はコードの桁数と退出キーワードに合わせて組み立てる。
func DefaultMessages(codeLength int, exitKeyword string) Messages {
	return Messages{
		Admitted:        "入室が確認されました。",
		DoorCode:        "ドア暗証番号は「{door_code}」です。",
		AlreadyEntered:  "今日はすでに入室済みです。",
		Full:            "本日は満員のため入室できません。",
		Exited:          "退出が確認されました。ご利用ありがとうございました。",
		NotEntered:      "本日はまだ入室していません。",
		AlreadyExited:   "今日はすでに退出済みです。",
		InvalidCode:     "入室コードが正しくありません。",
		CodeAlreadyUsed: "この入室コードはすでに使用されています。",
		Usage:           fmt.Sprintf("%d桁の入室コードまたは「%s」と送ってください。", codeLength, exitKeyword),
		Throttled:       "短時間に多くのメッセージが送られました。しばらく待ってから再度お試しください。",

		Checkout:           "こちらから決済してください。\n{url}",
		PaidAdmitted:       "決済が完了しました。入室コードは「{code}」です。",
		PaidFull:           "決済は完了しましたが、本日は満員のため入室できません。空きが出次第ご案内します。",
		PaidAlreadyEntered: "決済が完了しました。今日はすでに入室済みです。",
	}
}

// LoadMessages はYAMLファイルの文面でbaseを上書きする。
// ファイルに含まれないキーはbaseの値を維持する。
func LoadMessages(path string, base Messages) (Messages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Messages{}, fmt.Errorf("failed to read messages file: %w", err)
	}
	msgs := base
	if err := yaml.Unmarshal(data, &msgs); err != nil {
		return Messages{}, fmt.Errorf("failed to parse messages file %s: %w", path, err)
	}
	return msgs, nil
}

// ForOutcome は判定結果に対応する文面を返す。対応がない場合は空文字。
func (m Messages) ForOutcome(o model.Outcome) string {
	switch o {
	case model.OutcomeAdmitted:
		return m.Admitted
	case model.OutcomeAlreadyEntered:
		return m.AlreadyEntered
	case model.OutcomeFull:
		return m.Full
	case model.OutcomeExited:
		return m.Exited
	case model.OutcomeNotEntered:
		return m.NotEntered
	case model.OutcomeAlreadyExited:
		return m.AlreadyExited
	case model.OutcomeInvalidCode:
		return m.InvalidCode
	case model.OutcomeCodeAlreadyUsed:
		return m.CodeAlreadyUsed
	}
	return ""
}

// ForPayment は決済完了時のプッシュ文面を返す。
// 入室済みの場合も、前回の通知が届いていない可能性があるためドア暗証番号を添える。
func (m Messages) ForPayment(o model.Outcome, code, doorCode string) string {
	var text string
	switch o {
	case model.OutcomeAdmitted:
		text = Render(m.PaidAdmitted, map[string]string{"code": code})
	case model.OutcomeFull:
		return m.PaidFull
	case model.OutcomeAlreadyEntered:
		text = m.PaidAlreadyEntered
	default:
		return ""
	}
	if doorCode != "" {
		text += Render(m.DoorCode, map[string]string{"door_code": doorCode})
	}
	return text
}

// Render はtmpl中の{key}をvarsの値で置換する。
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
