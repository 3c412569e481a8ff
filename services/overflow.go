package services

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"pss-service/models"
	"pss-service/pkg/common"
)

// OverflowSpool 本地持久溢出队列
// 持久化重试耗尽后事件写入JSON行文件，启动时可回放，绝不静默丢弃
type OverflowSpool struct {
	mu     sync.Mutex
	path   string
	logger common.Logger
}

// NewOverflowSpool 创建溢出队列
func NewOverflowSpool(path string) *OverflowSpool {
	return &OverflowSpool{
		path:   path,
		logger: common.NewLogger("Overflow"),
	}
}

// Append 追加一条事件，每行一个JSON对象，立即落盘
func (o *OverflowSpool) Append(ev *models.DomainEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", common.ErrOverflowExhausted, err)
	}

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open spool: %v", common.ErrOverflowExhausted, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write spool: %v", common.ErrOverflowExhausted, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync spool: %v", common.ErrOverflowExhausted, err)
	}
	return nil
}

// Drain 读出全部滞留事件并清空文件，供启动时回放
// 回放失败的事件由调用方重新写回
func (o *OverflowSpool) Drain() ([]*models.DomainEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.Open(o.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open spool: %w", err)
	}

	var events []*models.DomainEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev models.DomainEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			o.logger.Error("Skipping corrupt spool line: %v", err)
			continue
		}
		events = append(events, &ev)
	}
	closeErr := f.Close()
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read spool: %w", err)
	}
	if closeErr != nil {
		return events, closeErr
	}

	if err := os.Remove(o.path); err != nil && !os.IsNotExist(err) {
		return events, fmt.Errorf("failed to truncate spool: %w", err)
	}
	return events, nil
}

// Pending 当前滞留事件数（监控用）
func (o *OverflowSpool) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.Open(o.path)
	if err != nil {
		return 0
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			count++
		}
	}
	return count
}
