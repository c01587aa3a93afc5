package ingest

import (
	"regexp"
	"strings"
	"time"

	"socwatch/internal/domain"
)

const (
	CategoryAuth     = "auth"
	CategoryNetwork  = "network"
	CategoryFirewall = "firewall"

	TimestampLayout = "2006-01-02 15:04:05"
)

// Heuristic feature values assigned when a marker phrase matches.
const (
	bruteForceFailedLogins = 5
	ddosPacketSize         = 1000
	portScanPort           = 80
)

var (
	ipv4Pattern      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	timestampPattern = regexp.MustCompile(`\[(.*?)\]`)
)

// Parse turns one raw line of the given stream category into a LogEvent.
// Lines without an IPv4 address are dropped (ok=false).
func Parse(line, category string, now time.Time) (domain.LogEvent, bool) {
	line = strings.TrimRight(line, "\r\n")

	ip := ipv4Pattern.FindString(line)
	if ip == "" {
		return domain.LogEvent{}, false
	}

	timestamp := now.Format(TimestampLayout)
	if match := timestampPattern.FindStringSubmatch(line); match != nil {
		timestamp = match[1]
	}

	event := domain.LogEvent{
		IP:             ip,
		Timestamp:      timestamp,
		Category:       category,
		HeuristicLabel: domain.LabelNormal,
		Raw:            line,
	}

	if IsInternalIP(ip) {
		event.Features[domain.FeatureIsInternal] = 1
	}

	switch category {
	case CategoryAuth:
		if strings.Contains(line, "Failed login") {
			event.Features[domain.FeatureFailedLogins] = bruteForceFailedLogins
			event.HeuristicLabel = domain.LabelBruteForce
		}
	case CategoryFirewall:
		if strings.Contains(line, "High traffic") {
			event.Features[domain.FeaturePacketSize] = ddosPacketSize
			event.HeuristicLabel = domain.LabelDDoS
		}
	case CategoryNetwork:
		if strings.Contains(line, "Port scan") {
			event.Features[domain.FeaturePort] = portScanPort
			event.HeuristicLabel = domain.LabelPortScan
		} else if strings.Contains(line, "Suspicious outbound") {
			event.HeuristicLabel = domain.LabelMalware
		}
	}

	return event, true
}

// IsInternalIP reports the parser's notion of an internal source address.
func IsInternalIP(ip string) bool {
	return strings.HasPrefix(ip, "192.168") || strings.HasPrefix(ip, "10.")
}
