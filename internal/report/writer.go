package report

// ============================================================================
// 職責說明：
// 1. 將運行成果（批次結果、訓練同步歷史、指標快照）落地為 JSON 檔
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 檔名帶時間戳，多次運行不互相覆蓋
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrReportDirMissing = errors.New("report output directory does not exist")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Writer 報告寫入器
// dir 不存在時寫入器為停用狀態（對應容器環境未掛載輸出卷的情況）
type Writer struct {
	dir string     // 輸出目錄
	mu  sync.Mutex // 保護檔案操作
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewWriter 建立報告寫入器實例
func NewWriter(dir string) *Writer {
	return &Writer{
		dir: dir,
	}
}

// Enabled 檢查輸出目錄是否存在且可用
func (w *Writer) Enabled() bool {
	info, err := os.Stat(w.dir)
	return err == nil && info.IsDir()
}

// Write 原子性寫入一份 JSON 報告
//
// 使用原子性寫入流程：
// 1. 寫入臨時檔案（.tmp）
// 2. 使用 os.Rename 原子性替換
//
// 參數：
//   - prefix: 檔名前綴（如 "workflow_results"、"training_results"）
//   - payload: 任意可序列化的報告內容
//
// 返回值：
//   - string: 寫入的完整檔案路徑
//   - error: 目錄不存在或寫入失敗時的錯誤
func (w *Writer) Write(prefix string, payload interface{}) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.enabled() {
		return "", fmt.Errorf("%w: %s", ErrReportDirMissing, w.dir)
	}

	// 序列化為 JSON（帶縮排，方便人工閱讀與除錯）
	jsonBytes, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	// 檔名帶時間戳，多次運行不互相覆蓋
	name := fmt.Sprintf("%s_%s.json", prefix, time.Now().Format("20060102_150405"))
	path := filepath.Join(w.dir, name)
	tmpPath := path + ".tmp"

	// 1. 寫入臨時檔案
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp report: %w", err)
	}

	// 2. 原子性重新命名（關鍵步驟）
	if err := os.Rename(tmpPath, path); err != nil {
		// 重新命名失敗，清理臨時檔案
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename report: %w", err)
	}

	return path, nil
}

// Dir 取得輸出目錄（用於測試與除錯）
func (w *Writer) Dir() string {
	return w.dir
}

// enabled 持鎖狀態下的目錄檢查
func (w *Writer) enabled() bool {
	info, err := os.Stat(w.dir)
	return err == nil && info.IsDir()
}
