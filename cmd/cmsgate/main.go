// Command cmsgate はCMSの前段に置く管理者認証ゲート。
//
// Usage:
//
//	cmsgate [serve]
//	cmsgate migrate
//	cmsgate create-admin <email> <password> [admin|super_admin]
//	cmsgate healthcheck
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/cmsgate/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("cmsgate exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
