package config

import "time"

const defaultGeoCacheTTL = time.Hour

// CalculateBetweenTime converts a Timer into a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfCheckingPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfCheckingPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func (t Timer) IsZero() bool {
	return t.Days == 0 && t.Hours == 0 && t.Minutes == 0 && t.Seconds == 0
}

// PollInterval is how long the coordinator sleeps after a round without data.
func (c Config) PollInterval() time.Duration {
	return CalculateBetweenTime(c.Pipeline.PollTimer)
}

func (c Config) GeoTimeout() time.Duration {
	return time.Duration(c.Geo.TimeoutSeconds) * time.Second
}

func (c Config) GeoCacheTTL() time.Duration {
	if c.Geo.CacheTTL.IsZero() {
		return defaultGeoCacheTTL
	}
	return CalculateBetweenTime(c.Geo.CacheTTL)
}

func (c Config) MailTimeout() time.Duration {
	if c.Mail.TimeoutSeconds == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Mail.TimeoutSeconds) * time.Second
}

// GeoLiteUpdateInterval is zero when periodic GeoLite downloads are disabled.
func (c Config) GeoLiteUpdateInterval() time.Duration {
	if c.Geo.UpdateTimer.IsZero() {
		return 0
	}
	return CalculateBetweenTime(c.Geo.UpdateTimer)
}
