package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore applies cfg.Levels per level: each configured level gets
// its own sampler, so a burst of debug output cannot use up the info
// budget. Unconfigured levels, and error and above, pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	rates := cfg.sampledLevels()
	if len(rates) == 0 {
		return core
	}

	cores := make([]zapcore.Core, 0, len(rates)+1)
	cores = append(cores, &levelBand{Core: core, accept: func(l zapcore.Level) bool {
		_, sampled := rates[l]
		return !sampled
	}})
	for lvl, rate := range rates {
		only := lvl
		band := &levelBand{Core: core, accept: func(l zapcore.Level) bool { return l == only }}
		cores = append(cores, zapcore.NewSamplerWithOptions(band, cfg.Tick.Duration(), rate.Initial, rate.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// levelBand passes entries whose level satisfies accept.
type levelBand struct {
	zapcore.Core
	accept func(zapcore.Level) bool
}

func (c *levelBand) Enabled(lvl zapcore.Level) bool {
	return c.accept(lvl) && c.Core.Enabled(lvl)
}

func (c *levelBand) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelBand) With(fields []zapcore.Field) zapcore.Core {
	return &levelBand{Core: c.Core.With(fields), accept: c.accept}
}
