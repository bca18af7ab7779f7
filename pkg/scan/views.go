package scan

import "slices"

// Map applies fn to every step of the sequences. Every output is map-style.
func Map(fn StepFunc, opts Options) (*Result, error) {
	opts.OutputsInfo = nil
	return Scan(fn, opts)
}

// Reduce runs fn over the sequences and returns only the last step of every
// output. A nil output info becomes a map-style output trimmed to its last step,
// and so does every output when none is declared.
func Reduce(fn StepFunc, opts Options) (*Result, error) {
	opts.lastStep = true
	infos := make([]*OutputInfo, len(opts.OutputsInfo))
	for i, info := range opts.OutputsInfo {
		last := &OutputInfo{ReturnSteps: 1}
		if info != nil {
			last.Initial = info.Initial
			last.Taps = slices.Clone(info.Taps)
			last.NoTaps = info.NoTaps
		}
		infos[i] = last
	}
	opts.OutputsInfo = infos
	return Scan(fn, opts)
}

// Foldl reduces from the first step to the last.
func Foldl(fn StepFunc, opts Options) (*Result, error) {
	opts.GoBackwards = false
	return Reduce(fn, opts)
}

// Foldr reduces from the last step to the first.
func Foldr(fn StepFunc, opts Options) (*Result, error) {
	opts.GoBackwards = true
	return Reduce(fn, opts)
}
