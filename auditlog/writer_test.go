package auditlog

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
)

// blockingStore 在 release 被关闭前阻塞所有写入，用于制造队列饱和。
type blockingStore struct {
	mu      sync.Mutex
	events  []*storage.AuditLog
	release chan struct{}
	fail    bool
}

func (s *blockingStore) Append(event *storage.AuditLog) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("audit store down")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *blockingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func event(action storage.AuditAction) *storage.AuditLog {
	return &storage.AuditLog{EventID: uuid.NewString(), Service: storage.ServiceSpeech, Action: action}
}

func TestWriterPersistsEvents(t *testing.T) {
	store := &blockingStore{}
	w := NewWriter(store, 16, discardLogger())
	w.Start()

	for i := 0; i < 5; i++ {
		w.Append(event(storage.ActionGetKey))
	}
	w.Stop() // Stop 冲刷队列后返回

	assert.Equal(t, 5, store.count())
	assert.Equal(t, int64(0), w.Dropped())
}

func TestWriterDropsWhenQueueFull(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	w := NewWriter(store, 2, discardLogger())
	w.Start()

	// 写入 goroutine 卡在第一条事件上，后续事件填满队列后开始丢弃。
	for i := 0; i < 10; i++ {
		w.Append(event(storage.ActionGetKey))
	}
	assert.Greater(t, w.Dropped(), int64(0))

	// 丢弃通过错误通道暴露给运维侧。
	select {
	case err := <-w.Errors():
		assert.Contains(t, err.Error(), "queue full")
	default:
		t.Fatal("队列饱和应向错误通道推送事件")
	}

	close(store.release)
	w.Stop()
	// 未丢弃的事件全部落盘。
	assert.Equal(t, 10-int(w.Dropped()), store.count())
}

func TestWriterStoreFailureDoesNotPropagate(t *testing.T) {
	store := &blockingStore{fail: true}
	w := NewWriter(store, 16, discardLogger())
	w.Start()

	// 写入失败不影响 Append 调用方，失败出现在错误通道里。
	w.Append(event(storage.ActionCooldownStart))

	var got error
	require.Eventually(t, func() bool {
		select {
		case got = <-w.Errors():
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Contains(t, got.Error(), "audit write failed")

	w.Stop()
}

func TestWriterAppendAfterStop(t *testing.T) {
	store := &blockingStore{}
	w := NewWriter(store, 4, discardLogger())
	w.Start()
	w.Stop()

	// 停止后的追加安全地丢弃，不 panic。
	w.Append(event(storage.ActionGetKey))
	assert.Equal(t, int64(1), w.Dropped())

	// 重复 Stop 是无害的。
	w.Stop()
}

func TestWriterNilEvent(t *testing.T) {
	w := NewWriter(&blockingStore{}, 4, nil)
	w.Start()
	w.Append(nil)
	w.Stop()
	assert.Equal(t, int64(0), w.Dropped())
}
