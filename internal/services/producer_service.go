// internal/services/producer_service.go
package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/config"
	apperrors "github.com/Sardonyx-Labs/NewsSatireStudio/internal/errors"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/utils"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/validate"
)

// GenerateFunc 外部生成函数：返回一份候选脚本或生成失败
type GenerateFunc func(ctx context.Context) (*models.Script, error)

// produceState 生成流程的状态
type produceState int

const (
	stateAttempting produceState = iota
	stateSucceeded
	stateExhausted
)

// 兜底脚本文本中支持的占位符写法
var errorPlaceholders = []string{"{{ error_message }}", "{error_message}"}

// ProduceResult 一次生成流程的最终结果
// Script保证非nil且通过校验（生成成功或兜底）
type ProduceResult struct {
	Script      *models.Script `json:"script"`
	Attempts    int            `json:"attempts"`
	IsFallback  bool           `json:"is_fallback"`
	LastFailure string         `json:"last_failure,omitempty"`
	ElapsedMS   int64          `json:"elapsed_ms"`
}

// ProducerService 驱动生成-校验-重试-兜底的完整流程
// 每个请求独立执行，服务本身只持有只读配置，可并发使用
type ProducerService struct {
	cfg     *config.StyleConfig
	logger  *utils.Logger
	metrics *utils.StudioMetrics

	// 测试时注入，替换真实的退避等待
	waitFn func(ctx context.Context, d time.Duration) error
}

// NewProducerService 创建生成流程服务
// 重试参数非法或兜底脚本本身过不了校验都是配置缺陷，在这里直接报错
func NewProducerService(cfg *config.StyleConfig) (*ProducerService, error) {
	if cfg == nil {
		return nil, apperrors.NewConfigError("风格指南配置为空", nil)
	}

	v := cfg.ScriptSettings.Validation
	if v.RetryAttempts <= 0 {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("retry_attempts 必须为正数: %d", v.RetryAttempts), nil)
	}
	if v.RetryMaxWait < 0 {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("retry_max_wait 不能为负数: %d", v.RetryMaxWait), nil)
	}
	if v.RetryMultiplier <= 0 {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("retry_multiplier 必须为正数: %v", v.RetryMultiplier), nil)
	}

	s := &ProducerService{
		cfg:     cfg,
		logger:  utils.GetLogger(),
		metrics: utils.NewStudioMetrics(),
		waitFn:  waitWithContext,
	}

	// 兜底脚本自检：替换占位符后必须能通过同一套校验规则
	sample := s.renderFallback(apperrors.NewGenerationError("self-check", nil))
	if err := validate.Script(sample, cfg); err != nil {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("兜底脚本未通过校验: %v", err), err)
	}

	return s, nil
}

// Produce 执行完整的生成流程，保证返回一份通过校验的脚本
// 只有上下文取消会以错误形式返回，生成和校验失败全部被吸收
func (s *ProducerService) Produce(ctx context.Context, generate GenerateFunc) (*ProduceResult, error) {
	start := time.Now()
	attempts := s.cfg.ScriptSettings.Validation.RetryAttempts

	var lastErr error
	tried := 0
	state := stateAttempting

	for n := 1; state == stateAttempting; n++ {
		tried = n
		script, err := s.attempt(ctx, generate)
		if err == nil {
			state = stateSucceeded
			s.metrics.RecordGenerationAttempt(n, true)
			s.logger.Info("脚本生成成功", map[string]interface{}{
				"attempt": n,
			})
			return &ProduceResult{
				Script:    script,
				Attempts:  n,
				ElapsedMS: time.Since(start).Milliseconds(),
			}, nil
		}

		lastErr = err
		s.metrics.RecordGenerationAttempt(n, false)
		if kind := validate.KindOf(err); kind != "" {
			s.metrics.RecordValidationFailure(string(kind))
		}
		s.logger.Warn("脚本生成失败", map[string]interface{}{
			"attempt": n,
			"error":   err.Error(),
		})

		// 不可重试的失败（配置缺陷、资源不存在）再试也不会变好，直接兜底
		if !apperrors.IsRetryable(err) {
			state = stateExhausted
			continue
		}

		state = nextState(n, attempts)
		if state == stateAttempting {
			if waitErr := s.waitFn(ctx, s.backoff(n)); waitErr != nil {
				return nil, waitErr
			}
		}
	}

	// 重试耗尽，使用兜底脚本
	s.metrics.RecordFallback()
	s.logger.Warn("重试已耗尽，返回兜底脚本", map[string]interface{}{
		"attempts":   tried,
		"last_error": lastErr.Error(),
	})

	return &ProduceResult{
		Script:      s.renderFallback(lastErr),
		Attempts:    tried,
		IsFallback:  true,
		LastFailure: lastErr.Error(),
		ElapsedMS:   time.Since(start).Milliseconds(),
	}, nil
}

// attempt 执行单次生成并校验结果
func (s *ProducerService) attempt(ctx context.Context, generate GenerateFunc) (*models.Script, error) {
	script, err := generate(ctx)
	if err != nil {
		return nil, err
	}
	if script == nil {
		return nil, apperrors.NewGenerationError("生成函数返回了空脚本", nil)
	}

	if err := validate.Script(script, s.cfg); err != nil {
		return nil, err
	}

	return script, nil
}

// nextState 状态转移：第n次失败后要么继续尝试要么耗尽
func nextState(n, attempts int) produceState {
	if n >= attempts {
		return stateExhausted
	}
	return stateAttempting
}

// backoff 第n次失败后的等待时长：multiplier * 2^(n-1) 秒，上限 retry_max_wait
func (s *ProducerService) backoff(n int) time.Duration {
	v := s.cfg.ScriptSettings.Validation

	seconds := v.RetryMultiplier * math.Pow(2, float64(n-1))
	if max := float64(v.RetryMaxWait); seconds > max {
		seconds = max
	}

	return time.Duration(seconds * float64(time.Second))
}

// renderFallback 深拷贝兜底脚本并替换错误占位符
func (s *ProducerService) renderFallback(cause error) *models.Script {
	script := s.cfg.FallbackScript()

	message := "unknown error"
	if cause != nil {
		if appErr, ok := cause.(*apperrors.AppError); ok {
			message = appErr.Message
		} else {
			message = cause.Error()
		}
	}

	// 先用元数据里的模板渲染出上下文描述，再替换进段落文本
	context := s.cfg.ScriptSettings.Fallback.Metadata.ErrorContextTemplate
	for _, ph := range errorPlaceholders {
		context = strings.ReplaceAll(context, ph, message)
	}

	for i := range script.Sections {
		for _, ph := range errorPlaceholders {
			script.Sections[i].Text = strings.ReplaceAll(script.Sections[i].Text, ph, context)
		}
	}

	if script.Metadata == nil {
		script.Metadata = make(map[string]interface{})
	}
	script.Metadata["is_fallback"] = true
	script.Metadata["error_context"] = context

	return script
}

// waitWithContext 可取消的退避等待
func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
