package heapwalk

func roundToCeiling(granularity, value uintptr) uintptr {
	if granularity == 0 {
		return value
	}
	return (value + granularity - 1) / granularity * granularity
}
