package pacentity

// Stats is a read-only post-decode snapshot of bookkeeping counters over
// the entity stream: pure bookkeeping over already-decoded data, not a new
// analysis pass.
type Stats struct {
	KindCounts       map[Kind]int
	CutOffCount      int
	ShiftJISFailures int
	OverlayHistogram map[int]int
}

// Stats computes the Decode Statistics snapshot over f's entity stream.
func (f *File) Stats() Stats {
	s := Stats{
		KindCounts:       make(map[Kind]int),
		OverlayHistogram: make(map[int]int),
	}
	for _, off := range f.EntityOffsets {
		e := f.byOffset[off]
		s.KindCounts[e.Kind]++
		switch e.Kind {
		case KindInstruction:
			if e.Instr.CutOff {
				s.CutOffCount++
			}
			s.OverlayHistogram[e.Instr.Template.Overlay]++
		case KindRawData:
			if !e.RawData.Decoded {
				s.ShiftJISFailures++
			}
		}
	}
	return s
}
