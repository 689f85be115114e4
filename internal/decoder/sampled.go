package decoder

import "log"

const (
	DefaultSampleFirst = 10
	DefaultSampleEvery = 1000
)

// SampledLogger logs the first occurrences of a condition, then every Nth
type SampledLogger struct {
	first uint64
	every uint64
	logf  func(format string, args ...any)
}

// NewSampledLogger logs occurrences 1..first and every multiple of every
func NewSampledLogger(first, every uint64) *SampledLogger {
	return &SampledLogger{first: first, every: every, logf: log.Printf}
}

// ShouldLog reports whether occurrence n (1-based) is logged
func (s *SampledLogger) ShouldLog(n uint64) bool {
	if n <= s.first {
		return true
	}
	return s.every > 0 && n%s.every == 0
}

// Printf logs when occurrence n is sampled
func (s *SampledLogger) Printf(n uint64, format string, args ...any) {
	if !s.ShouldLog(n) {
		return
	}
	s.logf("[%d] "+format, append([]any{n}, args...)...)
}
