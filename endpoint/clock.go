package endpoint

import "time"

// keepAliveInterval implements spec §4.4.1's keep-alive formula:
// "Keep-alive fires at min(3/4*max_idle_timeout, 30s)."
func keepAliveInterval(maxIdleTimeout time.Duration) time.Duration {
	threeQuarters := maxIdleTimeout * 3 / 4
	if threeQuarters > 30*time.Second {
		return 30 * time.Second
	}
	if threeQuarters <= 0 {
		return 30 * time.Second
	}
	return threeQuarters
}
