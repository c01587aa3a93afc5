package version

// Overridden at build time via -ldflags "-X socwatch/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

type Info struct {
	BuildVersion string `json:"buildVersion"`
	BuiltAt      string `json:"builtAt"`
}

func Get() Info {
	return Info{
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
	}
}

func (i Info) String() string {
	return "socwatch " + i.BuildVersion + " (built " + i.BuiltAt + ")"
}
