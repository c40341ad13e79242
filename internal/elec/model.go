// Package elec 提供纯函数的电气模型：按充电机拓扑计算功率/电流，
// 以及 SoC 接近满电时的 CC→CV 降流曲线。
package elec

import "math"

// ChargerType 充电机拓扑
type ChargerType string

const (
	ACMono ChargerType = "ac-mono"
	ACTri  ChargerType = "ac-tri"
	DC     ChargerType = "dc"
)

const (
	// IdleCurrentA 无交易或已充满时的静态电流
	IdleCurrentA = 0.025

	// 三相线电压判别阈值：高于该值按线-线电压处理
	lineToLineThresholdV = 300

	taperStartSoC  = 80.0
	taperExponent  = 1.5
	taperFloorFrac = 0.10
)

// PowerFromCurrent 按拓扑由电流计算功率（W）。
// DC：I×V；三相且线电压：√3×V×I；三相相电压：phases×V×I；两相：2×V×I；单相：V×I。
func PowerFromCurrent(currentA, voltageV float64, phases int, chargerType ChargerType) float64 {
	switch chargerType {
	case DC:
		return currentA * voltageV
	case ACTri:
		if phases >= 3 {
			if voltageV > lineToLineThresholdV {
				return math.Sqrt(3) * voltageV * currentA
			}
			return float64(phases) * voltageV * currentA
		}
		if phases == 2 {
			return 2 * voltageV * currentA
		}
		return voltageV * currentA
	default:
		return voltageV * currentA
	}
}

// CurrentFromPower PowerFromCurrent 的逆运算，用于 W→A 的限额换算
func CurrentFromPower(powerW, voltageV float64, phases int, chargerType ChargerType) float64 {
	unit := PowerFromCurrent(1, voltageV, phases, chargerType)
	if unit <= 0 {
		return 0
	}
	return powerW / unit
}

// ChargeState 降流曲线的输入
type ChargeState struct {
	TransactionActive  bool
	SoC                float64 // 0..100
	TargetSoC          float64 // 0..100
	ConfiguredCurrentA float64
	VehicleMaxCurrentA float64
}

// RealisticCurrent 当前工况下的真实充电电流。
// 无交易或 SoC 达标时返回静态电流；SoC 超过 80% 后按 (1-p)^1.5 降流，下限 10%。
func RealisticCurrent(s ChargeState) float64 {
	if !s.TransactionActive || s.SoC >= s.TargetSoC {
		return IdleCurrentA
	}
	base := s.ConfiguredCurrentA
	if s.VehicleMaxCurrentA > 0 && s.VehicleMaxCurrentA < base {
		base = s.VehicleMaxCurrentA
	}
	if base <= 0 {
		return IdleCurrentA
	}
	if s.SoC <= taperStartSoC {
		return base
	}
	progress := (s.SoC - taperStartSoC) / (100 - taperStartSoC)
	if progress > 1 {
		progress = 1
	}
	factor := math.Pow(1-progress, taperExponent)
	if factor < taperFloorFrac {
		factor = taperFloorFrac
	}
	return base * factor
}
