package main

import (
	"errors"
	"fmt"
)

// ErrDataFinished 表示历史行情数据已经走完（CSV 回放模式下正常结束）
var ErrDataFinished = errors.New("market data finished")

// ErrDataGap 表示某个标的连续多个周期拿不到价格，行情源已不可信，
// 竞赛应当以 Failed 终止而不是继续用陈旧价格算排名。
var ErrDataGap = errors.New("fatal market data gap")

// DecisionErrorKind 决策失败的类别
type DecisionErrorKind string

const (
	// DecisionTransient 瞬时失败（超时、网络抖动），可以重试
	DecisionTransient DecisionErrorKind = "transient"
	// DecisionMalformed 模型输出无法解析，重试没有意义
	DecisionMalformed DecisionErrorKind = "malformed"
)

// DecisionError Agent 决策失败。上层据 Kind 决定是否重试：
// transient 在超时预算内可重试，malformed 直接按失败计分。
type DecisionError struct {
	Kind   DecisionErrorKind
	Reason string
	Err    error
}

func (e *DecisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decision %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("decision %s: %s", e.Kind, e.Reason)
}

func (e *DecisionError) Unwrap() error { return e.Err }

// IsTransientDecisionError 判断是否为可重试的决策失败
func IsTransientDecisionError(err error) bool {
	var de *DecisionError
	if errors.As(err, &de) {
		return de.Kind == DecisionTransient
	}
	return false
}
