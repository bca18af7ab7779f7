// Package loop is the generic loop-execution operator: it is constructed from
// a per-step graph (inner inputs and outputs) plus a Config, applied to an
// outer input list, and yields one buffer per output category.
//
// Inner inputs are laid out as
//
//	sequences | mit_mot taps | mit_sot taps | sit_sot | shared | other non-sequences
//
// inner outputs as
//
//	mit_mot | mit_sot | sit_sot | nit_sot | shared
//
// and the outer inputs as
//
//	n_steps | sequences | mit_mot | mit_sot | sit_sot buffers | shared values |
//	n_steps per nit_sot | other non-sequences
//
// The operator's outputs follow the inner output order, one buffer per entry.
package loop

import "github.com/rendis/scanop/pkg/schema"

// Config describes how the operator maps inner and outer values.
// It is built once and copied on the way in and out of an Op.
type Config struct {
	TapArray         [][]int `json:"tap_array"`
	NSeqs            int     `json:"n_seqs"`
	NMitMot          int     `json:"n_mit_mot"`
	NMitMotOuts      int     `json:"n_mit_mot_outs"`
	MitMotOutSlices  [][]int `json:"mit_mot_out_slices"`
	NMitSot          int     `json:"n_mit_sot"`
	NSitSot          int     `json:"n_sit_sot"`
	NSharedOuts      int     `json:"n_shared_outs"`
	NNitSot          int     `json:"n_nit_sot"`
	TruncateGradient int     `json:"truncate_gradient"`
	GoBackwards      bool    `json:"go_backwards"`
	Name             string  `json:"name,omitempty"`
	Mode             string  `json:"mode,omitempty"`
	Inplace          bool    `json:"inplace"`
	GPU              bool    `json:"gpu"`
}

func copyInts(src [][]int) [][]int {
	if src == nil {
		return nil
	}
	out := make([][]int, len(src))
	for i, s := range src {
		out[i] = append([]int(nil), s...)
	}
	return out
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.TapArray = copyInts(c.TapArray)
	c.MitMotOutSlices = copyInts(c.MitMotOutSlices)
	return c
}

// MinTap returns |min(taps)| for entry i of the tap table.
func (c Config) MinTap(i int) int {
	m := 0
	for _, t := range c.TapArray[i] {
		m = min(m, t)
	}
	return -m
}

func (c Config) nTapInputs(from, to int) int {
	n := 0
	for _, taps := range c.TapArray[from:to] {
		n += len(taps)
	}
	return n
}

// NInnerRecurrentInputs is the number of inner inputs fed from output buffers.
func (c Config) NInnerRecurrentInputs() int {
	return c.nTapInputs(0, c.NMitMot+c.NMitSot+c.NSitSot)
}

// NInnerOutputs is the number of inner outputs the per-step graph must produce.
func (c Config) NInnerOutputs() int {
	return c.NMitMotOuts + c.NMitSot + c.NSitSot + c.NNitSot + c.NSharedOuts
}

// NOuterOutputs is the number of buffers the operator returns.
func (c Config) NOuterOutputs() int {
	return c.NMitMot + c.NMitSot + c.NSitSot + c.NNitSot + c.NSharedOuts
}

// Validate checks that the counts are consistent with each other.
func (c Config) Validate() error {
	counts := map[string]int{
		"n_seqs": c.NSeqs, "n_mit_mot": c.NMitMot, "n_mit_mot_outs": c.NMitMotOuts,
		"n_mit_sot": c.NMitSot, "n_sit_sot": c.NSitSot, "n_shared_outs": c.NSharedOuts, "n_nit_sot": c.NNitSot,
	}
	for k, v := range counts {
		if v < 0 {
			return schema.NewErrorf(schema.ErrCodeConfiguration, "loop config: %s is negative (%d)", k, v)
		}
	}
	if want := c.NMitMot + c.NMitSot + c.NSitSot; len(c.TapArray) != want {
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"loop config: tap table has %d entries, want %d", len(c.TapArray), want)
	}
	if len(c.MitMotOutSlices) != c.NMitMot {
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"loop config: %d mit_mot output slice lists for %d mit_mot entries", len(c.MitMotOutSlices), c.NMitMot)
	}
	outs := 0
	for _, sl := range c.MitMotOutSlices {
		outs += len(sl)
	}
	if outs != c.NMitMotOuts {
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"loop config: mit_mot output slices cover %d outputs, want %d", outs, c.NMitMotOuts)
	}
	for i, taps := range c.TapArray {
		if len(taps) == 0 {
			return schema.NewErrorf(schema.ErrCodeConfiguration, "loop config: tap table entry %d is empty", i).WithIndex(i)
		}
		if i >= c.NMitMot {
			for _, t := range taps {
				if t > 0 {
					return schema.NewErrorf(schema.ErrCodeConfiguration,
						"loop config: tap table entry %d requests future step %d", i, t).WithIndex(i)
				}
			}
		}
	}
	for i := c.NMitMot + c.NMitSot; i < len(c.TapArray); i++ {
		if len(c.TapArray[i]) != 1 || c.TapArray[i][0] != -1 {
			return schema.NewErrorf(schema.ErrCodeConfiguration,
				"loop config: sit_sot entry %d has taps %v, want [-1]", i, c.TapArray[i]).WithIndex(i)
		}
	}
	return nil
}
