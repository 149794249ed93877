// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// upstream API calls, database keys, or file paths. Using these validators
// prevents injection attacks (URL manipulation, path traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// ownerPattern matches valid GitHub owner (user or org) names.
// Allows: alphanumerics and single interior hyphens, max 39 characters.
var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9](?:-?[A-Za-z0-9]){0,38}$`)

// repoNamePattern matches valid GitHub repository names.
// Allows: alphanumerics, dots, hyphens, underscores, max 100 characters.
var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,100}$`)

// branchPattern matches git branch names we accept. This is stricter than
// git itself: slashes are allowed for namespaced branches, ".." and
// leading/trailing separators are not.
var branchPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]+(?:/[A-Za-z0-9._\-]+)*$`)

// ValidateOwner validates a GitHub owner name before it is interpolated
// into an API URL.
//
// Returns an error if the owner is invalid.
func ValidateOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if !ownerPattern.MatchString(owner) {
		return fmt.Errorf("invalid owner format: %q (must be 1-39 alphanumeric chars with single interior hyphens)", owner)
	}
	return nil
}

// ValidateRepoName validates a GitHub repository name.
//
// Returns an error if the name is invalid.
func ValidateRepoName(name string) error {
	if name == "" {
		return fmt.Errorf("repository name cannot be empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid repository name: %q", name)
	}
	if !repoNamePattern.MatchString(name) {
		return fmt.Errorf("invalid repository name format: %q (must be 1-100 alphanumeric chars, dots, hyphens, or underscores)", name)
	}
	return nil
}

// ValidateBranch validates a git branch name.
//
// Returns an error if the branch is invalid.
func ValidateBranch(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch cannot be empty")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("invalid branch name: %q (must not contain '..')", branch)
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("invalid branch name format: %q", branch)
	}
	return nil
}

// ValidateRepoCoordinates validates owner, name, and branch together.
// Returns the first validation failure.
//
// Example:
//
//	if err := validation.ValidateRepoCoordinates(owner, name, branch); err != nil {
//	    return nil, fmt.Errorf("invalid repository: %w", err)
//	}
//	// Safe to use in the GitHub contents API URL
func ValidateRepoCoordinates(owner, name, branch string) error {
	if err := ValidateOwner(owner); err != nil {
		return err
	}
	if err := ValidateRepoName(name); err != nil {
		return err
	}
	return ValidateBranch(branch)
}
