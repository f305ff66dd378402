package modbus

import (
	"sort"

	"github.com/alunegov/hmi-emu/internal/domain"
)

// BuildRanges partitions parameter ids into the fewest read requests allowed
// by cfg. Ids are deduplicated and sorted first. A range is extended to the
// next id while the range stays within cfg.MaxParametersPerRead ids and at
// most cfg.MaxGap unused ids lie between the range end and the next id.
func BuildRanges(ids []uint16, cfg BatchConfig) []domain.RegisterRange {
	if len(ids) == 0 {
		return nil
	}
	if cfg.MaxParametersPerRead == 0 {
		cfg.MaxParametersPerRead = 1
	}

	sorted := make([]uint16, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var ranges []domain.RegisterRange
	current := domain.RegisterRange{StartID: sorted[0], EndID: sorted[0]}
	for _, id := range sorted[1:] {
		if id == current.EndID {
			continue
		}
		span := int(id) - int(current.StartID) + 1
		gap := int(id) - int(current.EndID) - 1
		if span <= int(cfg.MaxParametersPerRead) && gap <= int(cfg.MaxGap) {
			current.EndID = id
			continue
		}
		ranges = append(ranges, current)
		current = domain.RegisterRange{StartID: id, EndID: id}
	}
	return append(ranges, current)
}
