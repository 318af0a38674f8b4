package audio

// peakTarget leaves a little headroom under 16-bit full scale.
const peakTarget = 0.95 * 32767

// PeakNormalize scales samples so the loudest one reaches just under full
// scale. Silent or already-hot tracks are left alone; quiet synthesis
// output, common with conservative provider gain, gets lifted.
func PeakNormalize(samples []int) {
	peak := 0
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 || float64(peak) >= peakTarget {
		return
	}
	gain := peakTarget / float64(peak)
	for i, s := range samples {
		v := float64(s) * gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int(v)
	}
}
