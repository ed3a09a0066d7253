//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dwarfdbg

import "strings"

// canonicalPath normalizes a file path the way every source-map key in this
// package is normalized: backslashes become slashes, a leading drive letter
// is lower-cased, and "." / ".." segments are collapsed against a stack.
// Everything else is left alone. The result is idempotent: canon(canon(p))
// == canon(p), and two equal canonical forms compare equal as strings.
func canonicalPath(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	path = lowerDriveLetter(path)

	// Only a unix-style leading slash needs to be restored after the
	// split below drops empty segments; a drive letter ("c:") survives
	// the split as an ordinary segment and needs no special casing.
	leadingSlash := strings.HasPrefix(path, "/")

	segments := strings.Split(path, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			// drop empty (consecutive slashes) and no-op segments
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	joined := strings.Join(stack, "/")
	if leadingSlash {
		joined = "/" + joined
	}
	return joined
}

// lowerDriveLetter lower-cases a leading "C:/"-style drive letter, leaving
// the rest of the path untouched.
func lowerDriveLetter(path string) string {
	if len(path) >= 3 && isDriveLetter(path[0]) && path[1] == ':' && path[2] == '/' {
		return string(toLowerASCII(path[0])) + path[1:]
	}
	return path
}

func isDriveLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func toLowerASCII(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b - 'A' + 'a'
	}
	return b
}

// isAbsolutePath reports whether path starts with "/" or matches the
// Windows drive-letter form "^[A-Za-z]:/", after backslash normalization
// has already happened (callers pass forward-slash paths).
func isAbsolutePath(path string) bool {
	if strings.HasPrefix(path, "/") {
		return true
	}
	return len(path) >= 3 && isDriveLetter(path[0]) && path[1] == ':' && path[2] == '/'
}

// joinPath resolves child against base the way the source map resolves a
// file-name or directory entry against the unit's comp_dir: if child is
// already absolute it is returned unchanged (after canonicalization),
// otherwise base and child are concatenated with a single separating slash.
func joinPath(base, child string) string {
	child = strings.ReplaceAll(child, `\`, "/")
	if isAbsolutePath(lowerDriveLetter(child)) {
		return canonicalPath(child)
	}
	base = strings.ReplaceAll(base, `\`, "/")
	if base == "" {
		return canonicalPath(child)
	}
	if strings.HasSuffix(base, "/") {
		return canonicalPath(base + child)
	}
	return canonicalPath(base + "/" + child)
}
