package ring

import (
	"runtime"
	"time"
)

// WaitStrategy controls how a blocked producer or consumer spends time
// waiting for a sequence to become available.
type WaitStrategy interface {
	// Idle is called once per failed poll with the number of consecutive
	// failures so far.
	Idle(iteration int)
}

// YieldingWait busy-spins briefly then yields the processor. Lowest
// latency, burns a core while idle. For latency-critical profiles.
type YieldingWait struct{}

func (YieldingWait) Idle(iteration int) {
	if iteration < 100 {
		return
	}
	runtime.Gosched()
}

// SleepingWait spins, yields, then sleeps in short increments. Higher
// wakeup latency, near-zero CPU while idle. The default profile.
type SleepingWait struct{}

func (SleepingWait) Idle(iteration int) {
	switch {
	case iteration < 100:
	case iteration < 200:
		runtime.Gosched()
	default:
		time.Sleep(50 * time.Microsecond)
	}
}

// StrategyFor maps a profile name to a wait strategy. Unknown names fall
// back to sleeping.
func StrategyFor(name string) WaitStrategy {
	if name == "yielding" {
		return YieldingWait{}
	}
	return SleepingWait{}
}
