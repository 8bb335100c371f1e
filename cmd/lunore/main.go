// Command lunore はストアフロントAPIサーバー、ワーカー、各種管理コマンドを起動する。
//
//	lunore [serve]          APIサーバー
//	lunore worker           カートクリーンアップと画像チェック
//	lunore migrate [up|down [n]|version]
//	lunore seed             初期カタログと管理者アカウントの投入
//	lunore healthcheck      Dockerヘルスチェック用
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/lunore/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "lunore: %v\n", err)
		os.Exit(1)
	}
}
