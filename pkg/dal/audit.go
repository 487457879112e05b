package dal

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/ants/v2"

	"github.com/lk2023060901/xdooria-dal/pkg/idgen"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/mq/kafka"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AuditEntry 一条审计记录，成功和失败的操作都会记录
type AuditEntry struct {
	// ID 按时间递增，写入前由服务分配
	ID            int64         `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	RequestID     string        `json:"requestId,omitempty"`
	Actor         string        `json:"actor"`
	Operation     Operation     `json:"operation"`
	Entity        string        `json:"entity,omitempty"`
	Connection    string        `json:"connection,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
	Success       bool          `json:"success"`
	ErrorCode     string        `json:"errorCode,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
	Cached        bool          `json:"cached"`
	Rows          int           `json:"rows"`
}

// AuditSink 审计存储由外部实现
type AuditSink interface {
	Log(ctx context.Context, entry AuditEntry) error
}

// LogAuditSink 将审计写入结构化日志
type LogAuditSink struct {
	logger logger.Logger
}

// NewLogAuditSink 创建日志审计
func NewLogAuditSink(l logger.Logger) *LogAuditSink {
	if l == nil {
		l = logger.Noop()
	}
	return &LogAuditSink{logger: l.Named("audit")}
}

// Log 实现 AuditSink
func (s *LogAuditSink) Log(ctx context.Context, e AuditEntry) error {
	fields := []interface{}{
		"audit_id", e.ID,
		"actor", e.Actor,
		"operation", e.Operation,
		"entity", e.Entity,
		"connection", e.Connection,
		"success", e.Success,
		"duration", e.Duration,
		"cached", e.Cached,
		"rows", e.Rows,
	}
	if e.TransactionID != "" {
		fields = append(fields, "tx_id", e.TransactionID)
	}
	if !e.Success {
		fields = append(fields, "error_code", e.ErrorCode, "error", e.Error)
	}
	s.logger.InfoContext(ctx, "data access", fields...)
	return nil
}

// Publisher 审计消息发送方，*kafka.Client 满足该接口
type Publisher interface {
	Publish(ctx context.Context, topic string, msgs ...*kafka.Message) error
}

// KafkaAuditSink 将审计以 JSON 发送到 Kafka，按实体分区
type KafkaAuditSink struct {
	publisher Publisher
	topic     string
}

// NewKafkaAuditSink 创建 Kafka 审计
func NewKafkaAuditSink(p Publisher, topic string) *KafkaAuditSink {
	return &KafkaAuditSink{publisher: p, topic: topic}
}

// Log 实现 AuditSink
func (s *KafkaAuditSink) Log(ctx context.Context, e AuditEntry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal audit entry")
	}
	return s.publisher.Publish(ctx, s.topic, &kafka.Message{
		Key:   []byte(e.Entity),
		Value: value,
		Headers: map[string]string{
			"audit_id":  strconv.FormatInt(e.ID, 10),
			"actor":     e.Actor,
			"operation": string(e.Operation),
		},
	})
}

// auditor 在协程池中异步写审计，失败只记录日志
type auditor struct {
	sink    AuditSink
	ids     idgen.Generator
	pool    *ants.Pool
	timeout time.Duration
	logger  logger.Logger
}

func newAuditor(sink AuditSink, cfg AuditConfig, l logger.Logger) (*auditor, error) {
	ids, err := idgen.NewSonyflake(cfg.MachineID)
	if err != nil {
		return nil, err
	}
	a := &auditor{sink: sink, ids: ids, timeout: cfg.Timeout, logger: l}
	if cfg.Workers <= 0 {
		return a, nil
	}
	p, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(r interface{}) {
			l.Error("audit sink panic", "panic", r)
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create audit pool")
	}
	a.pool = p
	return a, nil
}

// record 提交一条审计。ctx 只用于携带日志字段，不会因请求结束而取消写入
func (a *auditor) record(ctx context.Context, e AuditEntry) {
	ctx = context.WithoutCancel(ctx)
	id, err := a.ids.NextID()
	if err != nil {
		a.logger.WarnContext(ctx, "audit id unavailable", "error", err)
	}
	e.ID = id
	if a.pool == nil {
		a.write(ctx, e)
		return
	}
	if err := a.pool.Submit(func() { a.write(ctx, e) }); err != nil {
		a.logger.WarnContext(ctx, "audit entry dropped",
			"operation", e.Operation,
			"entity", e.Entity,
			"error", errors.Mark(err, ErrAuditOverload),
		)
	}
}

func (a *auditor) write(ctx context.Context, e AuditEntry) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if err := a.sink.Log(ctx, e); err != nil {
		a.logger.WarnContext(ctx, "audit sink failed",
			"operation", e.Operation,
			"entity", e.Entity,
			"error", err,
		)
	}
}

// close 等待排队中的审计写完
func (a *auditor) close(timeout time.Duration) error {
	if a.pool == nil {
		return nil
	}
	return a.pool.ReleaseTimeout(timeout)
}
