package resource

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
)

// SystemMetricsSource reads memory and CPU from the host OS.
type SystemMetricsSource struct{}

func NewSystemMetricsSource() *SystemMetricsSource {
	return &SystemMetricsSource{}
}

func (s *SystemMetricsSource) MemoryUsage(ctx context.Context) (int, int, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return int(vm.Used / (1 << 20)), int(vm.Total / (1 << 20)), nil
}

func (s *SystemMetricsSource) CPULoad(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// SystemSensors reads thermal state from host temperature sensors. Battery
// readings are not available on server hosts, so it reports a full,
// charging battery.
type SystemSensors struct{}

func NewSystemSensors() *SystemSensors {
	return &SystemSensors{}
}

func (s *SystemSensors) Battery(ctx context.Context) (int, bool, error) {
	return 100, true, nil
}

func (s *SystemSensors) Thermal(ctx context.Context) (ThermalState, error) {
	temps, err := sensors.TemperaturesWithContext(ctx)
	if err != nil || len(temps) == 0 {
		// No sensors is common in containers; assume nominal.
		return ThermalNominal, nil
	}

	max := 0.0
	for _, t := range temps {
		if t.Temperature > max {
			max = t.Temperature
		}
	}

	switch {
	case max >= 85:
		return ThermalCritical, nil
	case max >= 75:
		return ThermalSerious, nil
	case max >= 60:
		return ThermalFair, nil
	default:
		return ThermalNominal, nil
	}
}
