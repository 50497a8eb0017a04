// Package gbp holds the core value types shared across the publisher:
// builds, records, packages, content kinds and tag-name validation.
package gbp

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Build is an immutable identifier for a single CI build: a machine name
// paired with the CI's build id for that machine.
type Build struct {
	Machine string
	ID      string
}

// NewBuild validates and constructs a Build from its two components.
func NewBuild(machine, id string) (Build, error) {
	b := Build{Machine: machine, ID: id}
	if err := b.Validate(); err != nil {
		return Build{}, err
	}
	return b, nil
}

// ParseBuild parses the "<machine>.<build_id>" string form. The build id
// may itself contain dots, so the split happens on the first dot only.
func ParseBuild(s string) (Build, error) {
	idx := strings.Index(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return Build{}, fmt.Errorf("gbp: invalid build identifier %q", s)
	}
	return NewBuild(s[:idx], s[idx+1:])
}

// Validate reports whether both fields of the build are non-empty.
func (b Build) Validate() error {
	if b.Machine == "" || b.ID == "" {
		return fmt.Errorf("%w: machine=%q id=%q", ErrInvalidBuild, b.Machine, b.ID)
	}
	return nil
}

// String renders the canonical "<machine>.<build_id>" form.
func (b Build) String() string {
	return b.Machine + "." + b.ID
}

// Dir is the per-build directory name used under each Content directory.
func (b Build) Dir() string {
	return b.String()
}

// BuildRecord is a Build plus the mutable metadata tracked by the RecordDB.
type BuildRecord struct {
	Build

	Note      string
	Logs      string
	Keep      bool
	Submitted *time.Time
	Completed *time.Time
	Built     *time.Time
}

// Pulled reports the record-side half of the "pulled" invariant: the
// filesystem side (all four Content dirs existing) is checked separately
// by Storage.Pulled.
func (r BuildRecord) Pulled() bool {
	return r.Completed != nil
}

// Content enumerates the four fixed per-build subtrees.
type Content string

const (
	ContentRepos          Content = "repos"
	ContentBinpkgs        Content = "binpkgs"
	ContentEtcPortage     Content = "etc-portage"
	ContentVarLibPortage  Content = "var-lib-portage"
)

// Contents is the fixed, ordered enumeration of all Content kinds.
var Contents = []Content{ContentRepos, ContentBinpkgs, ContentEtcPortage, ContentVarLibPortage}

// Package is one entry of a build's binpkgs/Packages index.
type Package struct {
	CPV       string
	Repo      string
	Path      string
	BuildID   int
	Size      int64
	BuildTime int64 // unix seconds
}

// CPVB is the package identity key: CPV plus its binary build id suffix.
func (p Package) CPVB() string {
	return fmt.Sprintf("%s-%d", p.CPV, p.BuildID)
}

// GBPMetadata is the binpkgs/gbp.json sidecar written on every pull.
type GBPMetadata struct {
	BuildDuration int            `json:"build_duration"`
	Packages      PackagesSummary `json:"packages"`
	GBPHostname   string         `json:"gbp_hostname"`
	GBPVersion    string         `json:"gbp_version"`
}

// PackagesSummary is the "packages" sub-object of GBPMetadata.
type PackagesSummary struct {
	Total int       `json:"total"`
	Size  int64     `json:"size"`
	Built []Package `json:"built"`
}

// ApiKey is a named, encrypted-at-rest credential for mutation auth.
type ApiKey struct {
	Name     string
	Key      []byte
	Created  time.Time
	LastUsed *time.Time
}

var apiKeyName = regexp.MustCompile(`^[A-Za-z0-9]{1,128}$`)

// ValidateApiKeyName enforces the case-insensitive, 1-128 alphanumeric
// grammar for ApiKey names.
func ValidateApiKeyName(name string) error {
	if !apiKeyName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidApiKeyName, name)
	}
	return nil
}
