// Command roomgate はLINEの入退室Botサーバーを起動する。
//
// サブコマンド:
//
//	serve       Webhookサーバー（デフォルト）
//	worker      保持期間を過ぎた記録の削除
//	migrate     データベースマイグレーション
//	healthcheck コンテナのヘルスチェック
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/roomgate/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "roomgate: %v\n", err)
		os.Exit(1)
	}
}
