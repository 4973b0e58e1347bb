package metrics

import "sync"

// MaxHostLabels bounds the distinct values of the host label
const MaxHostLabels = 64

// OtherHost is the host label used once MaxHostLabels hosts have been seen
const OtherHost = "other"

var hostLabels = struct {
	sync.Mutex
	seen map[string]struct{}
}{seen: make(map[string]struct{})}

// HostLabel returns host while fewer than MaxHostLabels hosts have been
// labelled, and OtherHost for every new host after that
func HostLabel(host string) string {
	if host == "" {
		return OtherHost
	}

	hostLabels.Lock()
	defer hostLabels.Unlock()
	if _, ok := hostLabels.seen[host]; ok {
		return host
	}
	if len(hostLabels.seen) >= MaxHostLabels {
		return OtherHost
	}
	hostLabels.seen[host] = struct{}{}
	return host
}
