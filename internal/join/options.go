package join

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exofeat/internal/partition"
)

// Options configure one join run.
type Options struct {
	MarketPath        string
	ExogenousPath     string
	OutDir            string
	Lags              []int
	RollingWindow     int
	RollingMean       bool
	RollingSum        bool
	RollingMinPeriods int
	OutputFormat      string
	AsOf              string // optional YYYY-MM-DD; later days are ignored on both sides
}

func (o *Options) validate() error {
	for _, l := range o.Lags {
		if l < 1 {
			return eris.Errorf("join: lag %d must be >= 1", l)
		}
	}
	if o.RollingWindow < 1 {
		return eris.Errorf("join: rolling_window %d must be >= 1", o.RollingWindow)
	}
	if o.RollingMinPeriods < 1 || o.RollingMinPeriods > o.RollingWindow {
		return eris.Errorf("join: rolling_min_periods %d must be in [1, %d]", o.RollingMinPeriods, o.RollingWindow)
	}
	if len(o.Lags) == 0 && !o.RollingMean && !o.RollingSum {
		return eris.New("join: no derived columns requested (need lags, rolling_mean or rolling_sum)")
	}
	if o.AsOf != "" && !partition.ValidDay(o.AsOf) {
		return eris.Errorf("join: as_of %q is not a YYYY-MM-DD day", o.AsOf)
	}
	f, err := partition.ParseFormat(o.OutputFormat)
	if err != nil {
		return err
	}
	o.OutputFormat = f
	return nil
}

// lags returns the distinct configured lags in ascending order.
func (o *Options) lags() []int {
	out := slices.Clone(o.Lags)
	slices.Sort(out)
	return slices.Compact(out)
}

// rollingShift is how far the rolling window trails day d: the smallest lag,
// or one day when no lags are configured. Rolling aggregates are computed over
// the series already shifted by it, so day d's own value is never in its window.
func (o *Options) rollingShift() int {
	if l := o.lags(); len(l) > 0 {
		return l[0]
	}
	return 1
}
