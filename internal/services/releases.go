// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// ReleaseInfo tells a desktop client whether it should update.
type ReleaseInfo struct {
	LatestVersion   string `json:"latestVersion"`
	MinimumVersion  string `json:"minimumVersion,omitempty"`
	DownloadURL     string `json:"downloadUrl,omitempty"`
	UpdateAvailable bool   `json:"updateAvailable"`
	UpdateRequired  bool   `json:"updateRequired"`
}

type ReleaseService struct {
	latest      *semver.Version
	minimum     *semver.Version
	downloadURL string
}

// NewReleaseService parses the configured versions. minimum may be empty.
func NewReleaseService(latest, minimum, downloadURL string) (*ReleaseService, error) {
	latestVersion, err := semver.NewVersion(latest)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid latest client version %q", latest)
	}

	s := &ReleaseService{latest: latestVersion, downloadURL: downloadURL}

	if minimum != "" {
		minimumVersion, err := semver.NewVersion(minimum)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid minimum client version %q", minimum)
		}
		if minimumVersion.GreaterThan(latestVersion) {
			return nil, errors.Errorf("minimum client version %s is newer than latest %s", minimum, latest)
		}
		s.minimum = minimumVersion
	}

	return s, nil
}

// Check compares the client's current version against the published ones.
// An empty current version only reports the latest release.
func (s *ReleaseService) Check(current string) (*ReleaseInfo, error) {
	info := &ReleaseInfo{
		LatestVersion: s.latest.String(),
		DownloadURL:   s.downloadURL,
	}
	if s.minimum != nil {
		info.MinimumVersion = s.minimum.String()
	}

	if current == "" {
		return info, nil
	}

	currentVersion, err := semver.NewVersion(current)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidInput, "invalid version %q", current)
	}

	info.UpdateAvailable = currentVersion.LessThan(s.latest)
	if s.minimum != nil {
		info.UpdateRequired = currentVersion.LessThan(s.minimum)
	}

	return info, nil
}
