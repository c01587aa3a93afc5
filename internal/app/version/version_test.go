package version

import "testing"

func TestGetDefaults(t *testing.T) {
	info := Get()
	if info.BuildVersion != "dev" || info.BuiltAt != "unknown" {
		t.Fatalf("Get() = %+v", info)
	}
	if got := info.String(); got != "socwatch dev (built unknown)" {
		t.Fatalf("String() = %q", got)
	}
}
