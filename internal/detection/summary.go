package detection

import (
	"fmt"
	"strings"

	"socwatch/internal/domain"
)

const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "High"
	SeverityMedium   = "Medium"
	SeverityLow      = "Low"
)

const commandAndControlWarning = "The host appears to be attempting to communicate with a known Command & Control server. Immediate isolation recommended."

var attackSentences = map[string]string{
	domain.LabelBruteForce:         "Multiple failed login attempts detected, indicating a possible brute-force attack.",
	domain.LabelDDoS:               "Abnormally high traffic volume detected, characteristic of a Denial of Service attempt.",
	domain.LabelPortScan:           "The source IP is sequentially scanning open ports on the network.",
	domain.LabelMalware:            "Suspicious outbound traffic detected, consistent with malware activity on the host.",
	domain.LabelSuspiciousActivity: "Unusual behaviour detected that does not match a known attack pattern.",
}

// Severity buckets a risk score: >85 CRITICAL, >60 High, >40 Medium, else Low.
func Severity(riskScore int) string {
	switch {
	case riskScore > 85:
		return SeverityCritical
	case riskScore > 60:
		return SeverityHigh
	case riskScore > 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Summarize renders the incident description shown to analysts.
func Summarize(ip, attackType string, riskScore int, timestamp, raw string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "At %s, a %s severity security incident was detected from Source IP: %s. ", timestamp, Severity(riskScore), ip)
	fmt.Fprintf(&b, "The system identified the activity as '%s'. ", attackType)
	fmt.Fprintf(&b, "Calculated Risk Score is %d/100. ", riskScore)

	if sentence, ok := attackSentences[attackType]; ok {
		b.WriteString(sentence)
	}
	if strings.Contains(raw, "C2") {
		if _, ok := attackSentences[attackType]; ok {
			b.WriteByte(' ')
		}
		b.WriteString(commandAndControlWarning)
	}

	return strings.TrimRight(b.String(), " ")
}
