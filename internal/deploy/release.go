package deploy

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// IsReleaseTag reports whether tag is a valid semantic-version release
// tag (e.g. "v1.42.0").
func IsReleaseTag(tag string) bool {
	return semver.IsValid(tag)
}

// LatestReleaseTag returns the highest release tag among tags.
// Tags that are not valid semantic versions (e.g. "deploy-marker") are skipped.
func LatestReleaseTag(tags []string) (string, error) {
	var releases []string
	for _, t := range tags {
		if semver.IsValid(t) {
			releases = append(releases, t)
		}
	}
	if len(releases) == 0 {
		return "", fmt.Errorf("no release tags found among %d tags", len(tags))
	}
	semver.Sort(releases)
	return releases[len(releases)-1], nil
}
