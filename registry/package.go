package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	vs "github.com/gofhir/validationsupport"
)

// PackageRef names a package version. An empty version means latest.
type PackageRef struct {
	Name    string
	Version string
}

// ParsePackageRef parses "name#version", "name@version" or a bare name.
func ParsePackageRef(s string) (PackageRef, error) {
	s = strings.TrimSpace(s)
	name, version, _ := strings.Cut(s, "#")
	if !strings.Contains(s, "#") {
		name, version, _ = strings.Cut(s, "@")
	}
	if name == "" {
		return PackageRef{}, fmt.Errorf("invalid package reference %q", s)
	}
	return PackageRef{Name: name, Version: version}, nil
}

// String returns "name#version", or the bare name for latest.
func (p PackageRef) String() string {
	if p.Version == "" || p.Version == VersionLatest {
		return p.Name
	}
	return p.Name + "#" + p.Version
}

// TerminologyPackage returns the HL7 terminology package for a FHIR version.
func TerminologyPackage(version vs.FHIRVersion) PackageRef {
	ref, err := ParsePackageRef(version.TerminologyPackage())
	if err != nil {
		return PackageRef{Name: "hl7.terminology.r4", Version: VersionLatest}
	}
	return ref
}

// isCorePackage reports whether name is a FHIR core package. Core packages
// are never pulled in as dependencies.
func isCorePackage(name string) bool {
	return strings.HasPrefix(name, "hl7.fhir.r") && strings.HasSuffix(name, ".core")
}

// Resolved is one package made available locally.
type Resolved struct {
	Ref PackageRef
	Dir string
}

// Resolve fetches refs and, recursively, the dependencies their manifests
// declare, skipping core packages. Each package name is fetched once; the
// first version requested wins. Results are ordered dependencies first.
func (c *Client) Resolve(ctx context.Context, refs ...PackageRef) ([]Resolved, error) {
	seen := map[string]bool{}
	var out []Resolved

	var visit func(ref PackageRef, root bool) error
	visit = func(ref PackageRef, root bool) error {
		if seen[ref.Name] {
			return nil
		}
		seen[ref.Name] = true

		dir, err := c.Fetch(ctx, ref)
		if err != nil {
			if !root && errors.Is(err, ErrPackageNotFound) {
				c.logger.Warn().Err(err).Str("package", ref.String()).Msg("dependency skipped")
				return nil
			}
			return err
		}

		manifest, err := ReadManifest(dir)
		if err == nil {
			names := make([]string, 0, len(manifest.Dependencies))
			for name := range manifest.Dependencies {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if isCorePackage(name) {
					continue
				}
				if err := visit(PackageRef{Name: name, Version: manifest.Dependencies[name]}, false); err != nil {
					return err
				}
			}
			if ref.Version == "" || ref.Version == VersionLatest {
				ref.Version = manifest.Version
			}
		}
		out = append(out, Resolved{Ref: ref, Dir: dir})
		return nil
	}

	for _, ref := range refs {
		if err := visit(ref, true); err != nil {
			return nil, err
		}
	}
	return out, nil
}
