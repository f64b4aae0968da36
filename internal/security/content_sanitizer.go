// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer は運用者が設定する決済完了・キャンセルページのHTML断片を
// サニタイズする。bluemondayの許可リストベースのポリシーで、
// 見出しや段落など表示に必要なタグのみを通過させる。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はHTML断片のサニタイズ機能のインターフェースを定義する。
type ContentSanitizer interface {
	// Sanitize はHTML断片をサニタイズして安全なHTMLを返す。
	// script, iframe, styleタグおよびon*イベント属性は除去される。
	// aタグのhrefはhttpsとLINEアプリのスキームのみ許可される。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerの実装。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: h1, h2, h3, p, br, ul, ol, li, strong, em, a
//   - aタグ: https と line スキームのみ。target="_blank" と rel="noopener noreferrer" を付与
func NewContentSanitizer() ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h1", "h2", "h3",
		"p", "br", "ul", "ol", "li",
		"strong", "em",
	)

	// 決済後にLINEのトークへ戻るリンク（line://）を置けるようにする
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https", "line")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{policy: p}
}

// Sanitize はHTML断片をサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
