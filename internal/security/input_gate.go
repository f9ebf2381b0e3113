// Package security 实现请求进入推理前的输入闸门与结果返回前的输出闸门。
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrRestrictedContent 表示输入未通过本地规则检查。
	ErrRestrictedContent = errors.New("restricted content detected")
	// ErrClassifierUnavailable 表示意图分类器调用失败，调用方应按可重试处理。
	ErrClassifierUnavailable = errors.New("security classifier unavailable")
)

// Rejection 描述一次被拦截的输入。Stage 为 1 表示本地规则，2 表示分类器。
type Rejection struct {
	Stage  int
	Intent string
	Reason string
}

// AuditAction 返回写入审计日志的动作描述。
func (r *Rejection) AuditAction() string {
	if r.Stage == 1 {
		return "SECURITY_BLOCK: RULE | " + r.Reason
	}
	return fmt.Sprintf("SECURITY_BLOCK: %s | %s", r.Intent, r.Reason)
}

// InputGate 两阶段输入检查：先做零成本的本地规则，再调用外部分类器。
type InputGate struct {
	maxLen     int
	denyList   []string
	classifier Classifier
}

// NewInputGate 创建输入闸门。deny 短语按小写做子串匹配。
func NewInputGate(maxLen int, deny []string, classifier Classifier) *InputGate {
	lowered := make([]string, 0, len(deny))
	for _, d := range deny {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			lowered = append(lowered, d)
		}
	}
	return &InputGate{maxLen: maxLen, denyList: lowered, classifier: classifier}
}

// CheckRules 执行第一阶段检查，不发起任何外部调用。
func (g *InputGate) CheckRules(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty input", ErrRestrictedContent)
	}
	if g.maxLen > 0 && utf8.RuneCountInString(text) > g.maxLen {
		return fmt.Errorf("%w: input too long", ErrRestrictedContent)
	}
	lower := strings.ToLower(text)
	for _, phrase := range g.denyList {
		if strings.Contains(lower, phrase) {
			return ErrRestrictedContent
		}
	}
	return nil
}

// Screen 依次执行两个阶段。
// 返回 (nil, nil) 表示放行；返回 Rejection 表示策略拒绝；返回 error 表示分类器不可用。
func (g *InputGate) Screen(ctx context.Context, text string) (*Rejection, error) {
	if err := g.CheckRules(text); err != nil {
		return &Rejection{Stage: 1, Intent: "RULE", Reason: err.Error()}, nil
	}
	if g.classifier == nil {
		return nil, nil
	}

	verdict, err := g.classifier.CheckIntent(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	if !verdict.Valid {
		return &Rejection{Stage: 2, Intent: verdict.Intent, Reason: verdict.Reason}, nil
	}
	return nil, nil
}
