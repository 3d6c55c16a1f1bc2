package tableau

import (
	"fmt"
	"os"
	"strings"
)

// credentials is a resolved personal-access-token pair.
type credentials struct {
	name   string
	secret string
}

// resolveCredentials finds the PAT for a site. Site-specific variables win:
// the site name is upper-cased with hyphens mapped to underscores, so site
// "political-ads" reads POLITICAL_ADS_PAT_NAME / POLITICAL_ADS_PAT_SECRET.
// Absent those, the global PAT_NAME / PAT_SECRET pair is used.
func resolveCredentials(site string) (credentials, error) {
	prefix := strings.ToUpper(strings.ReplaceAll(site, "-", "_"))

	name := os.Getenv(prefix + "_PAT_NAME")
	secret := os.Getenv(prefix + "_PAT_SECRET")
	if name != "" && secret != "" {
		return credentials{name: name, secret: secret}, nil
	}

	name = os.Getenv("PAT_NAME")
	secret = os.Getenv("PAT_SECRET")
	if name != "" && secret != "" {
		return credentials{name: name, secret: secret}, nil
	}

	return credentials{}, fmt.Errorf("%w: site %s", ErrCredentialsMissing, site)
}
