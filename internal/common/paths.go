// Copyright 2024 FaultFS Authors
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

package common

import (
	"path"
	"strings"
)

// VirtualPath converts a host-supplied relative path ("", ".", "a/b") into
// the rooted form the vfs layer expects ("/", "/a/b"). Components are kept
// as given; ".." is not collapsed.
func VirtualPath(p string) string {
	p = strings.TrimLeft(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" || p == "." {
		return "/"
	}
	return "/" + p
}

// JoinVirtual appends name to the virtual directory dir.
func JoinVirtual(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// BaseName returns the base name of a path
func BaseName(p string) string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return path.Base(p)
}
