package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"agentdesk/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher 动作分发器：解析动作 ID 并在边界处把异常与错误转成失败结果
type Dispatcher struct {
	registry *Registry
	db       *gorm.DB
	logger   *zap.Logger
	timeout  time.Duration
}

// NewDispatcher 创建分发器；db 为 nil 时不写执行记录
func NewDispatcher(registry *Registry, db *gorm.DB, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		db:       db,
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// Registry 返回注册表
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch 执行动作。未知动作返回 *NotFoundError 以及 Success=false 的结果，
// 其余情况 error 恒为 nil
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID, actionID string, args map[string]any) (Result, error) {
	started := time.Now()
	handler, def, err := d.registry.Resolve(actionID)
	if err != nil {
		metrics.ActionDispatchTotal.WithLabelValues(actionID, "not_found").Inc()
		d.logger.Warn("动作不存在", zap.String("action", actionID), zap.String("owner_id", ownerID))
		res := Fail("%s", err.Error())
		d.record(ctx, ownerID, actionID, "", args, res, err, started)
		return res, err
	}

	res := d.invoke(ctx, handler, ownerID, actionID, args)
	status := statusOf(res)
	metrics.ActionDispatchTotal.WithLabelValues(def.Name, status).Inc()
	d.record(ctx, ownerID, actionID, def.Name, args, res, nil, started)
	return res, nil
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, ownerID, actionID string, args map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("动作执行 panic",
				zap.String("action", actionID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res = Fail("动作 %s 执行异常: %v", actionID, r)
		}
	}()

	if args == nil {
		args = map[string]any{}
	}
	if err := handler.Validate(args); err != nil {
		return Fail("参数校验失败: %v", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := handler.Execute(execCtx, ownerID, args)
	if err != nil {
		d.logger.Error("动作执行失败",
			zap.String("action", actionID),
			zap.String("owner_id", ownerID),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return Fail("动作 %s 执行超时", actionID)
		}
		return Fail("动作 %s 执行失败: %v", actionID, err)
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, ownerID, actionID, resolved string, args map[string]any, res Result, dispatchErr error, started time.Time) {
	if d.db == nil {
		return
	}
	exec := &ActionExecution{
		OwnerID:      ownerID,
		ActionID:     actionID,
		ResolvedName: resolved,
		Input:        args,
		Output:       res.ToMap(),
		Status:       statusOf(res),
		StartedAt:    started,
		Duration:     time.Since(started).Milliseconds(),
	}
	if dispatchErr != nil {
		exec.Status = "not_found"
	}
	if !res.Success && res.Message != "" {
		msg := res.Message
		exec.ErrorMessage = &msg
	}
	if err := d.db.WithContext(ctx).Create(exec).Error; err != nil {
		d.logger.Warn("写入动作执行记录失败", zap.String("action", actionID), zap.Error(err))
	}
}

func statusOf(res Result) string {
	switch {
	case res.Paused:
		return "paused"
	case res.Success:
		return "success"
	default:
		return "failed"
	}
}

// HandlerFunc 便于用函数注册简单动作
type HandlerFunc func(ctx context.Context, ownerID string, args map[string]any) (Result, error)

// Execute 实现 Handler
func (f HandlerFunc) Execute(ctx context.Context, ownerID string, args map[string]any) (Result, error) {
	return f(ctx, ownerID, args)
}

// Validate 不做校验
func (f HandlerFunc) Validate(map[string]any) error { return nil }

// ErrMissingArg 缺少必填参数
func ErrMissingArg(name string) error {
	return fmt.Errorf("缺少参数 %s", name)
}
