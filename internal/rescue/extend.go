package rescue

// Extend grows every read-complete run outward by margin bytes, turning
// the grown portions into retry candidates (not-tried) wherever they land
// on bytes that are not themselves read-complete. Bytes inside finished
// runs never change, and no byte farther than margin from a finished run
// is touched. Extending twice with margin 0 the second time is a no-op,
// so the output is safe to feed back through.
func Extend(m *Map, margin int64) (*Map, error) {
	if margin < 0 {
		margin = 0
	}
	size := m.Size()

	// Margin-widened finished runs, clamped and coalesced.
	var grown []Run
	for _, run := range m.FinishedRuns() {
		start := run.Start - margin
		if start < 0 {
			start = 0
		}
		end := run.End() + margin
		if end > size {
			end = size
		}
		if n := len(grown); n > 0 && start <= grown[n-1].End() {
			if end > grown[n-1].End() {
				grown[n-1].Size = end - grown[n-1].Start
			}
			continue
		}
		grown = append(grown, Run{Start: start, Size: end - start})
	}

	var out []Region
	gi := 0
	for _, r := range m.regions {
		if r.Status == StatusFinished {
			out = append(out, r)
			continue
		}
		pos := r.Start
		for gi < len(grown) && grown[gi].End() <= pos {
			gi++
		}
		for i := gi; i < len(grown) && grown[i].Start < r.End(); i++ {
			start, end := grown[i].Start, grown[i].End()
			if start < pos {
				start = pos
			}
			if end > r.End() {
				end = r.End()
			}
			if start > pos {
				out = append(out, Region{Start: pos, Size: start - pos, Status: r.Status})
			}
			out = append(out, Region{Start: start, Size: end - start, Status: StatusNonTried})
			pos = end
		}
		if pos < r.End() {
			out = append(out, Region{Start: pos, Size: r.End() - pos, Status: r.Status})
		}
	}
	return NewMap(out)
}
