package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 初始化並執行 CLI 命令
// 3. 處理頂層錯誤與 panic recovery
//
// 【簡潔原則】
// main.go 應該非常簡單，所有邏輯在 internal/cli
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/swarm-coordinator/internal/cli"
)

func main() {
	// Panic recovery（防止整個程式崩潰）
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "嚴重錯誤: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "錯誤: %v\n", err)
		os.Exit(1)
	}
}

// ============================================================================
// 編譯與執行
// ============================================================================

/*
# 開發階段
go run cmd/swarm/main.go run

# 編譯
go build -o bin/swarm cmd/swarm/main.go

# 執行
./bin/swarm run -f tasks.json
./bin/swarm train --rounds 5

# 交叉編譯（部署到 Linux）
GOOS=linux GOARCH=amd64 go build -o bin/swarm-linux cmd/swarm/main.go
*/
