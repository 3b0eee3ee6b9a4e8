package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"labsight-go/internal/model"
	"labsight-go/pkg/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader 依次返回 queue 中的消息，每条只投递一次（与 kafka-go 消费组一致，
// 未提交的消息不会被重新投递），取完后返回 context.Canceled。
type fakeReader struct {
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

// fakeProcessor 按顺序返回 errs 中的错误，用完后返回 err。
type fakeProcessor struct {
	errs   []error
	err    error
	calls  []tasks.AnalysisTask
	failed map[string]string
}

func (p *fakeProcessor) Process(_ context.Context, task tasks.AnalysisTask) error {
	p.calls = append(p.calls, task)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return p.err
}

func (p *fakeProcessor) MarkFailed(_ context.Context, jobID, reason string) error {
	if p.failed == nil {
		p.failed = map[string]string{}
	}
	p.failed[jobID] = reason
	return nil
}

func taskMessage(t *testing.T, offset int64, task tasks.AnalysisTask) kafka.Message {
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestProducerUsesJobIDAsKey(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	task := tasks.AnalysisTask{JobID: "job-1", TestType: "CBC", Images: []model.ImageRef{{URL: "u", Filename: "a.jpg"}}}
	require.NoError(t, p.ProduceAnalysisTask(context.Background(), task))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "job-1", string(w.msgs[0].Key))

	var got tasks.AnalysisTask
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, task, got)
}

func TestConsumerCommitsOnSuccess(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Set(attemptsKey("job-1"), "1")

	r := &fakeReader{queue: []kafka.Message{taskMessage(t, 1, tasks.AnalysisTask{JobID: "job-1"})}}
	proc := &fakeProcessor{}
	c := &Consumer{reader: r, rdb: rdb, processor: proc}
	c.Run(context.Background())

	assert.Len(t, proc.calls, 1)
	assert.Len(t, r.committed, 1)
	assert.False(t, mr.Exists(attemptsKey("job-1")))
}

func TestConsumerCommitsMalformedMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	r := &fakeReader{queue: []kafka.Message{{Offset: 3, Value: []byte("not json")}}}
	proc := &fakeProcessor{}
	c := &Consumer{reader: r, rdb: rdb, processor: proc}
	c.Run(context.Background())

	assert.Empty(t, proc.calls)
	assert.Len(t, r.committed, 1)
}

func TestConsumerRetriesInPlaceThenSucceeds(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	first := taskMessage(t, 5, tasks.AnalysisTask{JobID: "job-2"})
	second := taskMessage(t, 6, tasks.AnalysisTask{JobID: "job-3"})
	r := &fakeReader{queue: []kafka.Message{first, second}}
	boom := errors.New("boom")
	proc := &fakeProcessor{errs: []error{boom, boom}}
	c := &Consumer{reader: r, rdb: rdb, processor: proc}
	c.Run(context.Background())

	// job-2 重试到成功后才轮到 job-3
	require.Len(t, proc.calls, 4)
	assert.Equal(t, []string{"job-2", "job-2", "job-2", "job-3"},
		[]string{proc.calls[0].JobID, proc.calls[1].JobID, proc.calls[2].JobID, proc.calls[3].JobID})
	require.Len(t, r.committed, 2)
	assert.Equal(t, int64(5), r.committed[0].Offset)
	assert.Empty(t, proc.failed)
	assert.False(t, mr.Exists(attemptsKey("job-2")))
}

func TestConsumerGivesUpAfterMaxAttempts(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	msg := taskMessage(t, 5, tasks.AnalysisTask{JobID: "job-2"})
	r := &fakeReader{queue: []kafka.Message{msg}}
	proc := &fakeProcessor{err: errors.New("boom")}
	c := &Consumer{reader: r, rdb: rdb, processor: proc}
	c.Run(context.Background())

	assert.Len(t, proc.calls, maxTaskAttempts)
	assert.Len(t, r.committed, 1)
	assert.Contains(t, proc.failed["job-2"], "boom")
	assert.Contains(t, proc.failed["job-2"], "3 attempts")
}

func TestConsumerCountsAttemptsAcrossRestarts(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	// 重启前已经失败过两次
	mr.Set(attemptsKey("job-4"), "2")

	r := &fakeReader{queue: []kafka.Message{taskMessage(t, 9, tasks.AnalysisTask{JobID: "job-4"})}}
	proc := &fakeProcessor{err: errors.New("still broken")}
	c := &Consumer{reader: r, rdb: rdb, processor: proc}
	c.Run(context.Background())

	assert.Len(t, proc.calls, 1)
	assert.Len(t, r.committed, 1)
	assert.Contains(t, proc.failed, "job-4")
}

func TestConsumerDoesNotCommitWhenCancelled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ctx, cancel := context.WithCancel(context.Background())
	proc := &cancellingProcessor{cancel: cancel}
	r := &fakeReader{queue: []kafka.Message{taskMessage(t, 1, tasks.AnalysisTask{JobID: "job-5"})}}
	c := &Consumer{reader: r, rdb: rdb, processor: proc}
	c.handle(ctx, r.queue[0])

	assert.Equal(t, 1, proc.calls)
	assert.Empty(t, r.committed)
	assert.False(t, proc.markedFailed)
}

// cancellingProcessor 模拟停机：处理中途取消上下文并返回错误。
type cancellingProcessor struct {
	cancel       context.CancelFunc
	calls        int
	markedFailed bool
}

func (p *cancellingProcessor) Process(ctx context.Context, _ tasks.AnalysisTask) error {
	p.calls++
	p.cancel()
	return ctx.Err()
}

func (p *cancellingProcessor) MarkFailed(context.Context, string, string) error {
	p.markedFailed = true
	return nil
}
