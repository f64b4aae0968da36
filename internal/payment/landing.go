package payment

import (
	"bytes"
	"html/template"

	"github.com/hitoshi/roomgate/internal/security"
)

// デフォルトの決済後ページ本文
const (
	DefaultSuccessHTML = "<h1>決済が完了しました</h1><p>入室コードはLINEでお知らせします。トーク画面に戻ってください。</p>"
	DefaultCancelHTML  = "<h1>決済をキャンセルしました</h1><p>もう一度お手続きする場合はLINEで「決済」と送ってください。</p>"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// LandingPages は決済完了・キャンセル後に表示するページ。
// 本文は生成時に一度だけサニタイズする。
type LandingPages struct {
	success []byte
	cancel  []byte
}

// NewLandingPages はLandingPagesを生成する。空の本文はデフォルトの文面になる。
func NewLandingPages(sanitizer security.ContentSanitizer, successHTML, cancelHTML string) (*LandingPages, error) {
	if successHTML == "" {
		successHTML = DefaultSuccessHTML
	}
	if cancelHTML == "" {
		cancelHTML = DefaultCancelHTML
	}
	success, err := renderPage("決済完了", sanitizer.Sanitize(successHTML))
	if err != nil {
		return nil, err
	}
	cancel, err := renderPage("決済キャンセル", sanitizer.Sanitize(cancelHTML))
	if err != nil {
		return nil, err
	}
	return &LandingPages{success: success, cancel: cancel}, nil
}

// Success は決済完了ページのHTMLを返す。
func (p *LandingPages) Success() []byte { return p.success }

// Cancel は決済キャンセルページのHTMLを返す。
func (p *LandingPages) Cancel() []byte { return p.cancel }

func renderPage(title, body string) ([]byte, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body)}) // bodyはサニタイズ済み
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
