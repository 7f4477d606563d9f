// ============================================================================
// Beaver-Swarm Worker Registry - Worker 註冊表
// ============================================================================
//
// Package: internal/registry
// 文件: registry.go
// 功能: 管理系統中所有 Worker 的註冊、查詢與狀態
//
// 設計理念:
//   採用混合式設計，兼顧查找效率與順序保證：
//   1. workers map - 統一的 Worker 存儲，作為單一真實來源 (Single Source of Truth)
//   2. order slice - 記錄註冊順序，保證 List() 的確定性輸出
//   3. 兩者通過 WorkerID 同步，確保一致性
//
// Worker 生命週期:
//   - 在一次運行開始時由配置建立並註冊
//   - 運行期間不會被移除（靜態集合）
//   - 狀態由 Dispatcher 在任務執行前後轉換：idle → working → idle/error
//
// 並發安全:
//   - Registry 使用 sync.RWMutex 保護 map 與 order slice
//   - 每個 Worker 持有自己的 mutex，保護 status 與 history
//   - 同一 Worker 的狀態轉換不會交錯；不同 Worker 之間完全獨立，
//     不需要跨 Worker 的鎖
//
// 職責說明：
//   1. 註冊 Worker，拒絕重複 ID（ErrDuplicateWorker）
//   2. 按註冊順序列出 Worker，支援按類型過濾
//   3. 按 ID 查詢 Worker（ErrWorkerNotFound）
//   4. 提供 Worker 狀態與任務歷史的執行緒安全存取
//
// ============================================================================

package registry

import (
	"errors"
	"sync"

	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// Worker ID 重複錯誤
	ErrDuplicateWorker = errors.New("worker already registered")
	// Worker 不存在
	ErrWorkerNotFound = errors.New("worker not found")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Worker 代表一個執行單元
// 身份欄位（ID/Type/Capabilities）在建立後不可變；
// status 與 history 是唯一的可變狀態，由自身的 mutex 保護
type Worker struct {
	ID           types.WorkerID   // Worker 唯一識別碼
	Type         types.WorkerType // Worker 類型，決定可處理的任務種類
	Capabilities []string         // 能力集合（描述性標籤）

	mu      sync.Mutex         // 保護 status 與 history
	status  types.WorkerStatus // 當前狀態
	history []types.TaskResult // 已完成任務記錄（append-only）
}

// NewWorker 建立新的 Worker 實例，初始狀態為 idle
func NewWorker(id types.WorkerID, workerType types.WorkerType, capabilities []string) *Worker {
	return &Worker{
		ID:           id,
		Type:         workerType,
		Capabilities: capabilities,
		status:       types.StatusIdle,
		history:      make([]types.TaskResult, 0),
	}
}

// Status 返回 Worker 當前狀態
//
// 併發安全：使用互斥鎖保護
func (w *Worker) Status() types.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// SetStatus 設定 Worker 狀態
// 狀態轉換只由 Dispatcher 在任務生命週期前後呼叫：
//   - 任務開始：idle → working
//   - 任務成功：working → idle
//   - 任務失敗：working → error
//
// 併發安全：使用互斥鎖保護，同一 Worker 的轉換不會交錯
func (w *Worker) SetStatus(s types.WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
}

// AppendRecord 將一筆已完成的任務記錄追加到歷史
// 只有成功完成的任務才會被記錄（對應原始設計：失敗任務不進入 history）
func (w *Worker) AppendRecord(r types.TaskResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, r)
}

// CompletedCount 返回已完成任務數量
// Router 的 least-busy 決策以此為依據
func (w *Worker) CompletedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.history)
}

// History 返回任務歷史的副本（避免外部修改內部狀態）
func (w *Worker) History() []types.TaskResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.TaskResult, len(w.history))
	copy(out, w.history)
	return out
}

// Registry 代表 Worker 註冊表
type Registry struct {
	mu      sync.RWMutex
	workers map[types.WorkerID]*Worker // 所有 Worker 的統一儲存
	order   []types.WorkerID           // 註冊順序索引，保證確定性
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立新的 Registry 實例
//
// 返回值：
//   - *Registry: 初始化完成的註冊表
//
// 併發安全：返回的實例是執行緒安全的
func New() *Registry {
	return &Registry{
		workers: make(map[types.WorkerID]*Worker),
		order:   make([]types.WorkerID, 0),
	}
}

// Register 將 Worker 加入註冊表
//
// 參數說明：
//   - w: 要註冊的 Worker，必須包含唯一 ID
//
// 返回值：
//   - error: 如果 Worker ID 重複則回傳 ErrDuplicateWorker
//
// 併發安全：使用互斥鎖保護
func (r *Registry) Register(w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.ID]; exists {
		return ErrDuplicateWorker
	}

	r.workers[w.ID] = w
	r.order = append(r.order, w.ID)
	return nil
}

// Get 按 ID 查詢 Worker
//
// 返回值：
//   - *Worker: 查詢到的 Worker
//   - error: 如果不存在則回傳 ErrWorkerNotFound
func (r *Registry) Get(id types.WorkerID) (*Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, exists := r.workers[id]
	if !exists {
		return nil, ErrWorkerNotFound
	}
	return w, nil
}

// List 返回所有 Worker，保持註冊順序
//
// 參數說明：
//   - workerType: 過濾類型；空字串表示不過濾
//
// 返回值：
//   - []*Worker: 符合條件的 Worker，按註冊順序排列
func (r *Registry) List(workerType types.WorkerType) []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Worker, 0, len(r.order))
	for _, id := range r.order {
		w := r.workers[id]
		if workerType != "" && w.Type != workerType {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Len 返回已註冊的 Worker 數量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// FromDefs 從配置定義批次建立並註冊 Worker
//
// 參數說明：
//   - defs: 來自配置檔的 Worker 定義列表
//
// 返回值：
//   - *Registry: 包含所有 Worker 的註冊表
//   - error: 任一定義重複時回傳 ErrDuplicateWorker
func FromDefs(defs []types.WorkerDef) (*Registry, error) {
	r := New()
	for _, def := range defs {
		w := NewWorker(def.ID, def.Type, def.Capabilities)
		if err := r.Register(w); err != nil {
			return nil, err
		}
	}
	return r, nil
}
