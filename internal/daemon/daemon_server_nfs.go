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

//go:build !smb

package daemon

import (
	log "github.com/sirupsen/logrus"

	"faultfs/internal/vfs"
)

// createServer creates the network filesystem server exporting fs
func createServer(fs *vfs.FaultFS, shareName string) (NetFSServer, error) {
	return NewNFSServer(fs), nil
}

// mountNetFS mounts the network filesystem
func mountNetFS(ip string, port int, shareName string, mountPath string) error {
	return NFSMount(ip, port, mountPath)
}

// logServerType logs what type of server is being used
func logServerType() {
	log.Infof("Using NFS server (default build)")
}
