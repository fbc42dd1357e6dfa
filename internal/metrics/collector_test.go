package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.toolCallsTotal)
	assert.NotNil(t, collector.toolCallDuration)
	assert.NotNil(t, collector.messagesSentTotal)
	assert.NotNil(t, collector.messagesReadTotal)
	assert.NotNil(t, collector.storeQueryDuration)
	assert.NotNil(t, collector.inboxSize)
	assert.NotNil(t, collector.agentsTotal)
}

func TestCollector_RecordToolCall(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordToolCall("send_mail", "ok", 10*time.Millisecond)
	collector.RecordToolCall("send_mail", "invalid_argument", 2*time.Millisecond)

	count := testutil.CollectAndCount(collector.toolCallsTotal)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordMessageSent(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordMessageSent("urgent")
	collector.RecordMessageSent("normal")

	count := testutil.CollectAndCount(collector.messagesSentTotal)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordMessageRead(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordMessageRead(3)
	collector.RecordMessageRead(1)

	count := testutil.CollectAndCount(collector.messagesReadTotal)
	assert.Equal(t, 1, count)
}

func TestCollector_RecordStoreQuery(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStoreQuery("put_message", 5*time.Millisecond)

	count := testutil.CollectAndCount(collector.storeQueryDuration)
	assert.Equal(t, 1, count)
}

func TestCollector_SetInboxSizeAndAgentsTotal(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetInboxSize("claude-desktop", 7)
	collector.SetAgentsTotal(4)

	assert.Equal(t, 1, testutil.CollectAndCount(collector.inboxSize))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.agentsTotal))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordToolCall("check_mail", "ok", time.Millisecond)
			collector.RecordMessageSent("low")
			collector.RecordStoreQuery("list_inbox", time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Greater(t, testutil.CollectAndCount(collector.toolCallsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.messagesSentTotal), 0)
}
