// Package auditlog 实现审计事件的异步写入器。
// 写入相对于触发它的状态变更是 fire-and-forget 的：可观测性永远不能
// 阻塞可用性。写入失败不回滚任何状态，但会通过运维错误通道和日志暴露。
package auditlog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
)

// Store 是写入器对持久层的全部要求。*storage.AuditStore 实现了该接口。
type Store interface {
	Append(event *storage.AuditLog) error
}

// Writer 通过有界队列异步落盘审计事件。
// Append 永不阻塞：队列饱和时丢弃事件并计数，丢弃与写入失败都会
// 推送到错误通道供运维侧消费。
type Writer struct {
	store Store
	log   *logrus.Logger

	ch   chan *storage.AuditLog
	errs chan error

	mu     sync.RWMutex // 协调 Append 与 Stop，防止向已关闭的通道发送
	closed bool

	dropped atomic.Int64
	wg      sync.WaitGroup
}

// NewWriter 创建审计写入器。queueSize <= 0 时使用 256。
func NewWriter(store Store, queueSize int, logger *logrus.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		store: store,
		log:   logger,
		ch:    make(chan *storage.AuditLog, queueSize),
		errs:  make(chan error, 16),
	}
}

// Start 启动后台写入 goroutine。
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

// run 顺序消费队列并落盘。单条写入失败只上报，不中断后续事件。
func (w *Writer) run() {
	defer w.wg.Done()
	for event := range w.ch {
		if err := w.store.Append(event); err != nil {
			w.report(fmt.Errorf("audit write failed for event %s (%s): %w", event.EventID, event.Action, err))
		}
	}
}

// Append 将一条审计事件加入写入队列。实现 keypool.AuditSink。
// 队列已满或写入器已停止时事件被丢弃并计数——审计丢失是可接受的，
// 阻塞状态变更不是。
func (w *Writer) Append(event *storage.AuditLog) {
	if event == nil {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.ch <- event:
	default:
		w.dropped.Add(1)
		w.report(fmt.Errorf("audit queue full, dropped event %s (%s)", event.EventID, event.Action))
	}
}

// report 将运维错误写入日志并尽力推送到错误通道（通道满时只留日志）。
func (w *Writer) report(err error) {
	if w.log != nil {
		w.log.Errorf("审计写入器: %v", err)
	}
	select {
	case w.errs <- err:
	default:
	}
}

// Errors 返回运维错误通道。消费是可选的，通道满时错误只出现在日志里。
func (w *Writer) Errors() <-chan error {
	return w.errs
}

// Dropped 返回累计丢弃的事件数。
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Stop 停止接收新事件，冲刷队列中剩余事件后返回。
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	w.wg.Wait()
	if w.log != nil {
		w.log.Infof("审计写入器已停止，累计丢弃 %d 条事件。", w.Dropped())
	}
}
