package dispatch

import (
	"context"

	"github.com/ChuLiYu/swarm-coordinator/internal/registry"
	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

// ExecuteFunc 代表外部注入的不透明工作單元
// 它可能耗費任意時間，也可能失敗；成功時回傳輸出資料
type ExecuteFunc func(ctx context.Context, w *registry.Worker, task types.Task) (map[string]interface{}, error)

// Pair 代表一組已完成路由的 (Worker, Task) 配對
type Pair struct {
	Worker *registry.Worker // 被選中的 Worker
	Task   types.Task       // 待執行的任務
}
