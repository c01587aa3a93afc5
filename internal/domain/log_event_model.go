package domain

// Attack labels shared by the parser, classifier, scorer and summary templates.
const (
	LabelNormal             = "normal"
	LabelBruteForce         = "brute_force"
	LabelDDoS               = "ddos"
	LabelPortScan           = "port_scan"
	LabelMalware            = "malware"
	LabelSuspiciousActivity = "suspicious_activity"
)

const FeatureCount = 5

// FeatureVector is ordered as failed logins, packet size, duration, port, is-internal.
type FeatureVector [FeatureCount]float64

const (
	FeatureFailedLogins = iota
	FeaturePacketSize
	FeatureDuration
	FeaturePort
	FeatureIsInternal
)

func (v FeatureVector) FailedLogins() float64 { return v[FeatureFailedLogins] }
func (v FeatureVector) PacketSize() float64   { return v[FeaturePacketSize] }
func (v FeatureVector) Duration() float64     { return v[FeatureDuration] }
func (v FeatureVector) Port() float64         { return v[FeaturePort] }
func (v FeatureVector) IsInternal() bool      { return v[FeatureIsInternal] == 1 }

// LogEvent lives for a single pipeline iteration and is never persisted.
type LogEvent struct {
	IP             string
	Timestamp      string
	Category       string
	Features       FeatureVector
	HeuristicLabel string
	Raw            string
}

func (e LogEvent) IsNormal() bool {
	return e.HeuristicLabel == LabelNormal
}
