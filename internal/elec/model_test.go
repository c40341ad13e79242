package elec

import (
	"math"
	"testing"
)

func TestPowerFromCurrent(t *testing.T) {
	cases := []struct {
		name     string
		currentA float64
		voltageV float64
		phases   int
		typ      ChargerType
		want     float64
	}{
		{"dc-50kw", 125, 400, 1, DC, 50000},
		{"ac-mono", 32, 230, 1, ACMono, 7360},
		{"ac-tri-phase-neutral", 16, 230, 3, ACTri, 3 * 230 * 16},
		{"ac-tri-line-to-line", 16, 400, 3, ACTri, math.Sqrt(3) * 400 * 16},
		{"ac-tri-two-phase", 16, 230, 2, ACTri, 2 * 230 * 16},
		{"ac-tri-single-phase", 16, 230, 1, ACTri, 230 * 16},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := PowerFromCurrent(c.currentA, c.voltageV, c.phases, c.typ)
			if math.Abs(got-c.want) > 1e-9 {
				t.Fatalf("got %.3fW want %.3fW", got, c.want)
			}
		})
	}
}

func TestCurrentFromPower_Inverse(t *testing.T) {
	got := CurrentFromPower(11000, 230, 3, ACTri)
	want := 11000.0 / (3 * 230)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %.4fA want %.4fA", got, want)
	}
	if CurrentFromPower(1000, 0, 1, ACMono) != 0 {
		t.Fatal("zero voltage must yield zero current, not Inf")
	}
}

func TestRealisticCurrent_IdleStates(t *testing.T) {
	if got := RealisticCurrent(ChargeState{TransactionActive: false, SoC: 40, TargetSoC: 80, ConfiguredCurrentA: 32}); got != IdleCurrentA {
		t.Fatalf("no transaction: got %.3f want idle", got)
	}
	if got := RealisticCurrent(ChargeState{TransactionActive: true, SoC: 80, TargetSoC: 80, ConfiguredCurrentA: 32}); got != IdleCurrentA {
		t.Fatalf("target reached: got %.3f want idle", got)
	}
}

func TestRealisticCurrent_Taper(t *testing.T) {
	// SoC=90 → progress=0.5 → factor=(0.5)^1.5≈0.3536 → 32A*0.3536≈11.3A
	got := RealisticCurrent(ChargeState{TransactionActive: true, SoC: 90, TargetSoC: 100, ConfiguredCurrentA: 32, VehicleMaxCurrentA: 64})
	want := 32 * math.Pow(0.5, 1.5)
	if math.Abs(got-want) > 0.05 {
		t.Fatalf("got %.3fA want %.3fA", got, want)
	}

	// SoC=100 封顶在 10% 下限
	got = RealisticCurrent(ChargeState{TransactionActive: true, SoC: 99.9, TargetSoC: 100, ConfiguredCurrentA: 32})
	if got < 3.2-1e-9 {
		t.Fatalf("taper floor violated: %.3fA", got)
	}

	// 80% 以下不降流，受车辆最大电流钳制
	got = RealisticCurrent(ChargeState{TransactionActive: true, SoC: 50, TargetSoC: 100, ConfiguredCurrentA: 32, VehicleMaxCurrentA: 16})
	if got != 16 {
		t.Fatalf("vehicle clamp: got %.3fA want 16A", got)
	}
}

func TestCheck_Tolerances(t *testing.T) {
	base := Reading{VoltageV: 230, CurrentA: 32, Phases: 1, ChargerType: ACMono}

	ok := base
	ok.PowerW = 230 * 32
	if issues := Check(ok); len(issues) != 0 {
		t.Fatalf("expected clean reading, got %v", issues)
	}

	warn := base
	warn.PowerW = 230 * 32 * 1.15
	issues := Check(warn)
	if len(issues) != 1 || issues[0].Level != LevelWarning {
		t.Fatalf("expected one warning, got %v", issues)
	}

	bad := base
	bad.PowerW = 230 * 32 * 1.30
	issues = Check(bad)
	if len(issues) != 1 || issues[0].Level != LevelError {
		t.Fatalf("expected one error, got %v", issues)
	}

	// 多相放宽 15%：25% 偏差在三相下只算告警
	tri := Reading{VoltageV: 230, CurrentA: 16, Phases: 3, ChargerType: ACTri}
	tri.PowerW = 3 * 230 * 16 * 1.25
	issues = Check(tri)
	if len(issues) != 1 || issues[0].Level != LevelWarning {
		t.Fatalf("expected phase-imbalance warning, got %v", issues)
	}
}

func TestCheck_ImplausibleRanges(t *testing.T) {
	if issues := Check(Reading{VoltageV: 50, CurrentA: 10, Phases: 1, ChargerType: ACMono}); len(issues) == 0 {
		t.Fatal("expected error for 50V")
	}
	if issues := Check(Reading{VoltageV: 400, CurrentA: 600, Phases: 1, ChargerType: DC}); len(issues) == 0 {
		t.Fatal("expected error for 600A")
	}
}
