package raft

import "time"

// Defaults mirror the teacher's package-level MinimumElectionTimeoutMs /
// BroadcastInterval (BroadcastInterval == MinimumElectionTimeoutMs / 10),
// promoted from package globals to per-Engine options (SPEC_FULL.md AMBIENT
// STACK) so more than one Engine can coexist in a process with different
// tunables, which a package-level var forbids.
const (
	DefaultElectionTimeout  = 250 * time.Millisecond
	DefaultMaxAppendEntries = 64
	// DefaultCatchUpRounds and DefaultCatchUpCeiling implement the §4.6
	// catch-up policy: at most 10 rounds, 30s total, before a non-voter
	// promotion aborts.
	DefaultCatchUpRounds  = 10
	DefaultCatchUpCeiling = 30 * time.Second
)

// Options configures a new Engine. Use New with one or more Option values;
// the zero Options (via no Option at all) reproduces the teacher's
// defaults.
type Options struct {
	electionTimeout  time.Duration
	heartbeatTimeout time.Duration
	maxAppendEntries int
	catchUpRounds    int
	catchUpCeiling   time.Duration
	rand             RandSource
	logger           Logger
}

// Option mutates Options during New.
type Option func(*Options)

// WithElectionTimeout sets the base election timeout; the engine draws the
// actual per-election timeout uniformly from [t, 2t) per spec.md §4.7.
func WithElectionTimeout(t time.Duration) Option {
	return func(o *Options) { o.electionTimeout = t }
}

// WithHeartbeatTimeout sets the leader's heartbeat interval. The teacher
// derives this from the election timeout (BroadcastInterval); this engine
// allows it to be set independently since §4.5 treats it as its own
// tunable, but WithElectionTimeout alone still picks a sane heartbeat via
// the teacher's ratio if WithHeartbeatTimeout is never called.
func WithHeartbeatTimeout(t time.Duration) Option {
	return func(o *Options) { o.heartbeatTimeout = t }
}

// WithMaxAppendEntries bounds how many log entries a single AppendEntries
// request may carry (§4.5 "entries = log[next_index..min(last_index,
// next_index+max_batch-1)]").
func WithMaxAppendEntries(n int) Option {
	return func(o *Options) { o.maxAppendEntries = n }
}

// WithCatchUpPolicy overrides the §4.6 catch-up round count and hard
// ceiling; primarily for tests exercising the boundary behaviors in §8.
func WithCatchUpPolicy(rounds int, ceiling time.Duration) Option {
	return func(o *Options) { o.catchUpRounds = rounds; o.catchUpCeiling = ceiling }
}

// WithRandSource injects the election-timeout jitter source (Design Notes
// §9: "must use an injectable randomness source").
func WithRandSource(r RandSource) Option {
	return func(o *Options) { o.rand = r }
}

// WithLogger overrides the default logrus-backed logger.
func WithLogger(l Logger) Option {
	return func(o *Options) { o.logger = l }
}

func resolveOptions(opts []Option) Options {
	o := Options{
		electionTimeout:  DefaultElectionTimeout,
		maxAppendEntries: DefaultMaxAppendEntries,
		catchUpRounds:    DefaultCatchUpRounds,
		catchUpCeiling:   DefaultCatchUpCeiling,
		rand:             defaultRandSource{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.heartbeatTimeout == 0 {
		o.heartbeatTimeout = o.electionTimeout / 10
		if o.heartbeatTimeout == 0 {
			o.heartbeatTimeout = time.Millisecond
		}
	}
	if o.logger == nil {
		o.logger = newDefaultLogger()
	}
	return o
}
