package fees

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadScheduleFile reads a fee schedule from a YAML file:
//
//	base_fee_bps: 30
//	maker_fee_bps: 20
//	tiers:
//	  - min_volume: "25000"
//	    rebate_bps: 10
//
// The returned schedule is validated.
func LoadScheduleFile(path string) (Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("read fee schedule %s: %w", path, err)
	}
	return ParseSchedule(data)
}

// ParseSchedule decodes and validates a YAML fee schedule.
func ParseSchedule(data []byte) (Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}
