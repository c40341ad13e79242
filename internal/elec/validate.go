package elec

import (
	"fmt"
	"math"
)

// IssueLevel 校验结论级别
type IssueLevel string

const (
	LevelWarning IssueLevel = "warning"
	LevelError   IssueLevel = "error"
)

// Issue 一条电气合理性问题，仅用于诊断，不阻断报文发送
type Issue struct {
	Level   IssueLevel
	Message string
}

const (
	minPlausibleVoltageV = 100
	maxPlausibleVoltageV = 1000
	maxPlausibleCurrentA = 500

	warnToleranceFrac  = 0.10
	errorToleranceFrac = 0.20
	// 相不平衡最多放宽 15%
	phaseImbalanceFrac = 0.15
)

// Reading 待校验的一组电气读数
type Reading struct {
	PowerW      float64
	VoltageV    float64
	CurrentA    float64
	Phases      int
	ChargerType ChargerType
}

// Check 交叉校验 P≈V×I 并检查取值范围。返回发现的问题列表，可能为空。
func Check(r Reading) []Issue {
	var issues []Issue

	if r.VoltageV < minPlausibleVoltageV || r.VoltageV > maxPlausibleVoltageV {
		issues = append(issues, Issue{LevelError,
			fmt.Sprintf("voltage %.1fV outside plausible range [%d,%d]", r.VoltageV, minPlausibleVoltageV, maxPlausibleVoltageV)})
	}
	if r.CurrentA < 0 || r.CurrentA > maxPlausibleCurrentA {
		issues = append(issues, Issue{LevelError,
			fmt.Sprintf("current %.1fA outside plausible range [0,%d]", r.CurrentA, maxPlausibleCurrentA)})
	}
	if len(issues) > 0 {
		return issues
	}

	expected := PowerFromCurrent(r.CurrentA, r.VoltageV, r.Phases, r.ChargerType)
	if expected <= 0 {
		return issues
	}
	deviation := math.Abs(r.PowerW-expected) / expected

	warnTol, errTol := warnToleranceFrac, errorToleranceFrac
	if r.Phases > 1 {
		warnTol += phaseImbalanceFrac
		errTol += phaseImbalanceFrac
	}

	switch {
	case deviation > errTol:
		issues = append(issues, Issue{LevelError,
			fmt.Sprintf("power %.0fW deviates %.0f%% from V*I expectation %.0fW", r.PowerW, deviation*100, expected)})
	case deviation > warnTol:
		issues = append(issues, Issue{LevelWarning,
			fmt.Sprintf("power %.0fW deviates %.0f%% from V*I expectation %.0fW", r.PowerW, deviation*100, expected)})
	}
	return issues
}
