package sched

// Accnt accumulates per-process scheduling usage, counted in 100 Hz timer
// ticks rather than wall-clock nanoseconds: grounded in biscuit's
// accnt.Accnt_t (Userns/Sysns), adapted to ticks since talus has no real-time
// clock to query before userspace brings one up itself. Not part of spec §6's
// wait syscall wire contract; it only adds bookkeeping a future wait4-style
// extension could surface.
type Accnt struct {
	UserTicks uint64
	SysTicks  uint64
}

// Tick records one timer tick against the counter matching where it landed.
func (a *Accnt) Tick(userMode bool) {
	if userMode {
		a.UserTicks++
	} else {
		a.SysTicks++
	}
}

// Add merges n's counts into a, for a parent that inherits a reaped child's
// accounting.
func (a *Accnt) Add(n Accnt) {
	a.UserTicks += n.UserTicks
	a.SysTicks += n.SysTicks
}
