// Package version answers one question for a till: is a newer build
// published? Tills in shops run unattended for months, so the check is
// quiet, cached for a day, and never blocks a sale.
package version

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	repoOwner = "harper"
	repoName  = "till"
)

// apiURL is overridable in tests.
var apiURL = "https://api.github.com/repos/%s/%s/releases/latest"

// Release is the slice of the GitHub release payload the check reads.
type Release struct {
	TagName     string    `json:"tag_name"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
}

// CheckResult is the outcome of one release lookup.
type CheckResult struct {
	CurrentVersion string
	LatestVersion  string
	UpdateURL      string
	HasUpdate      bool
	Error          error
}

// Check asks GitHub for the latest release and compares it against the
// running build. Development builds are never compared; there is nothing
// meaningful to offer them.
func Check(currentVersion string) CheckResult {
	result := CheckResult{CurrentVersion: currentVersion}
	if IsDevelopmentVersion(currentVersion) {
		return result
	}

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf(apiURL, repoOwner, repoName), nil)
	if err != nil {
		result.Error = err
		return result
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "till/"+currentVersion)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		result.Error = err
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("github api: %s", resp.Status)
		return result
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		result.Error = err
		return result
	}

	result.LatestVersion = release.TagName
	result.UpdateURL = release.HTMLURL
	result.HasUpdate = isNewer(release.TagName, currentVersion)
	return result
}

// IsDevelopmentVersion reports whether v names a local or unstamped
// build rather than a tagged release.
func IsDevelopmentVersion(v string) bool {
	switch v {
	case "", "unknown", "dev", "devel":
		return true
	}
	return strings.HasPrefix(v, "devel+")
}

// validVersionRegex admits release tags (v1.2.3, v1.2.3-beta.1) and
// nothing that could smuggle shell syntax into the suggested command.
var validVersionRegex = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9]+([.-][a-zA-Z0-9]+)*)?$`)

// UpdateCommand is the go install line offered to the operator. The
// installed binary reads its version from build info, so no ldflags are
// needed. Returns "" for anything that is not a clean release tag.
func UpdateCommand(version string) string {
	if !validVersionRegex.MatchString(version) {
		return ""
	}
	return fmt.Sprintf("go install github.com/%s/%s@%s", repoOwner, repoName, version)
}
