// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"labsight-go/internal/config"
	"labsight-go/pkg/log"
	"labsight-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxTaskAttempts 是同一任务失败多少次后放弃重试。
const maxTaskAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.AnalysisTask) error
	// MarkFailed 在放弃重试后把任务标记为失败。
	MarkFailed(ctx context.Context, jobID, reason string) error
}

// messageWriter 是 kafka.Writer 的最小子集，便于测试替换。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 发送分析任务到 Kafka。
type Producer struct {
	writer messageWriter
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceAnalysisTask 发送一个分析任务，以 JobID 作为消息 key。
func (p *Producer) ProduceAnalysisTask(ctx context.Context, task tasks.AnalysisTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.JobID), Value: taskBytes}); err != nil {
		return fmt.Errorf("写入 Kafka 消息失败: %w", err)
	}
	return nil
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

func brokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// messageReader 是 kafka.Reader 的最小子集，便于测试替换。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费分析任务，失败次数记录在 Redis 中。
//
// kafka-go 的消费组 Reader 不会重新投递未提交的消息，后续消息提交时会一并提交它，
// 所以失败的任务在 handle 内就地重试，次数记在 Redis 中，进程重启后继续累计。
type Consumer struct {
	reader     messageReader
	rdb        *redis.Client
	processor  TaskProcessor
	retryDelay time.Duration
}

// NewConsumer 创建一个 Kafka 消费者。
func NewConsumer(cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, rdb: rdb, processor: processor, retryDelay: 2 * time.Second}
}

// Run 循环拉取消息直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		c.handle(ctx, m)
	}

	if err := c.reader.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

func attemptsKey(jobID string) string {
	return fmt.Sprintf("kafka:attempts:%s", jobID)
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var task tasks.AnalysisTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	log.Infof("开始处理分析任务: JobID=%s, 图片数=%d", task.JobID, len(task.Images))
	key := attemptsKey(task.JobID)
	var local int64
	for {
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("分析任务处理成功: JobID=%s", task.JobID)
			_ = c.rdb.Del(ctx, key).Err()
			c.commit(ctx, m)
			return
		}
		if ctx.Err() != nil {
			// 停机中断：不提交，重启后重新投递
			log.Warnf("分析任务被中断: JobID=%s", task.JobID)
			return
		}

		local++
		attempts := c.recordAttempt(ctx, key, local)
		log.Errorf("处理分析任务失败(第 %d 次): JobID=%s, Error: %v", attempts, task.JobID, err)
		if attempts >= maxTaskAttempts {
			log.Errorf("分析任务多次失败(>=%d)，标记失败并提交 offset: JobID=%s", maxTaskAttempts, task.JobID)
			reason := fmt.Sprintf("analysis failed after %d attempts: %v", attempts, err)
			if merr := c.processor.MarkFailed(ctx, task.JobID, reason); merr != nil {
				log.Error("标记任务失败状态出错", merr)
			}
			_ = c.rdb.Del(ctx, key).Err()
			c.commit(ctx, m)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
}

// recordAttempt 在 Redis 中累加失败次数；Redis 不可用时退回本地计数。
func (c *Consumer) recordAttempt(ctx context.Context, key string, local int64) int64 {
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Warnf("记录任务失败次数出错: %v", err)
		return local
	}
	_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
	if attempts < local {
		return local
	}
	return attempts
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
