package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はゲートサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCreateAdmin は管理ユーザーを作成することを示す。
	CommandCreateAdmin Command = "create-admin"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "create-admin":
		return CommandCreateAdmin
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// CreateAdminArgs はcreate-adminサブコマンドの引数。
type CreateAdminArgs struct {
	Email    string
	Password string
	Role     string
}

// defaultCreateAdminRole はcreate-adminでロールを省略した場合のロール。
const defaultCreateAdminRole = "super_admin"

// ParseCreateAdminArgs は "create-admin <email> <password> [role]" の引数を解析する。
// argsにはサブコマンド名を含むos.Args[1:]を渡す。
func ParseCreateAdminArgs(args []string) (CreateAdminArgs, bool) {
	if len(args) < 3 || len(args) > 4 {
		return CreateAdminArgs{}, false
	}
	a := CreateAdminArgs{
		Email:    args[1],
		Password: args[2],
		Role:     defaultCreateAdminRole,
	}
	if len(args) == 4 {
		a.Role = args[3]
	}
	return a, true
}
