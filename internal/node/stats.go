package node

import (
	"math"
	"time"
)

// maxPingHistory bounds the rolling ping window; the oldest sample is evicted.
const maxPingHistory = 10

// statsTTL is the staleness window for cached engine metrics.
const statsTTL = 2 * time.Minute

// MemoryStats is the engine-reported JVM-style memory block.
type MemoryStats struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

// CPUStats is the engine-reported CPU block.
type CPUStats struct {
	Cores      int     `json:"cores"`
	SystemLoad float64 `json:"systemLoad"`
	EngineLoad float64 `json:"lavalinkLoad"`
}

// FrameStats reports audio frame delivery over the last window. Deficit is
// the shortfall against the expected frame rate.
type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// StatsFrame is the periodic stats payload from the engine's event stream.
type StatsFrame struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         MemoryStats `json:"memory"`
	CPU            CPUStats    `json:"cpu"`
	FrameStats     *FrameStats `json:"frameStats,omitempty"`
}

// Health is a pure read of a node's cached metrics plus the derived
// penalty/score used for instance selection.
type Health struct {
	Connected      bool
	Ping           time.Duration
	AveragePing    time.Duration
	Penalties      int
	Score          float64
	CPULoad        float64
	MemoryUsagePct float64
	Players        int
	PlayingPlayers int
	Stale          bool
}

// penaltyOf computes the selection penalty for a stats frame. The weights are
// an empirically tuned heuristic carried over for compatibility; do not
// rebalance them.
func penaltyOf(s StatsFrame) int {
	cores := s.CPU.Cores
	if cores < 1 {
		cores = 1
	}

	penalty := s.PlayingPlayers
	// The CPU term truncates toward zero while the deficit term rounds.
	// Both behaviors are part of the compatibility surface.
	penalty += int((s.CPU.SystemLoad / float64(cores)) * 10)
	if s.FrameStats != nil {
		penalty += int(math.Round(float64(s.FrameStats.Deficit) * 2.5))
	}
	penalty += s.Players
	return penalty
}

// scoreOf computes the load-balancing score for a stats frame and ping.
// Lower is better.
func scoreOf(s StatsFrame, ping time.Duration) float64 {
	cores := s.CPU.Cores
	if cores < 1 {
		cores = 1
	}

	score := float64(penaltyOf(s)) * 10
	score += (s.CPU.SystemLoad / float64(cores)) * 100
	score += memoryUsagePct(s.Memory) * 0.5
	score += float64(ping.Milliseconds()) * 0.1
	score += float64(s.Players) * 2
	score += float64(s.PlayingPlayers) * 5
	return score
}

func memoryUsagePct(m MemoryStats) float64 {
	total := m.Used + m.Free
	if total <= 0 {
		return 0
	}
	return float64(m.Used) / float64(total) * 100
}
