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

//go:build darwin

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// NFSMount mounts the NFS export at mountPath using mount_nfs
func NFSMount(ip string, port int, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	// soft,timeo=50,retrans=3 lets the kernel give up on a dead server instead
	// of leaving a mount that only a reboot clears. noac keeps attributes in
	// step with the mirrored tree. nobrowse keeps Spotlight out.
	cmd := exec.Command("mount_nfs",
		"-o", fmt.Sprintf("port=%d,mountport=%d,tcp,nolocks,vers=3,rsize=65536,noac,soft,timeo=50,retrans=3,nobrowse,rdonly", port, port),
		fmt.Sprintf("%s:/", ip),
		mountPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount_nfs failed: %w: %s", err, string(output))
	}
	return nil
}

// SMBMount mounts an SMB share using mount_smbfs
func SMBMount(ip string, port int, shareName, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	// Format: //Guest@127.0.0.1:port/shareName
	url := fmt.Sprintf("//Guest@%s:%d/%s", ip, port, shareName)
	log.Debugf("Mount: running mount_smbfs %s -> %s", url, mountPath)

	//   -N: Don't prompt for password (guest auth)
	//   -o nobrowse: Don't show on Desktop
	//   -o nostreams: Disable named streams
	cmd := exec.Command("mount_smbfs", "-N", "-o", "nobrowse,nostreams,rdonly", url, mountPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount_smbfs failed: %w, output: %s", err, string(output))
	}
	return nil
}

// Unmount unmounts a filesystem
func Unmount(mountPoint string) error {
	log.Debugf("Unmount: attempting to unmount %s", mountPoint)

	if !IsMounted(mountPoint) {
		log.Debugf("Unmount: %s is not mounted, nothing to do", mountPoint)
		return nil
	}

	// diskutil is the preferred method on macOS, then umount, then force
	attempts := [][]string{
		{"diskutil", "unmount", mountPoint},
		{"umount", mountPoint},
		{"umount", "-f", mountPoint},
	}
	var lastErr error
	for _, args := range attempts {
		ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
		output, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		cancel()
		if err == nil {
			log.Debugf("Unmount: %v succeeded", args)
			return nil
		}
		log.Debugf("Unmount: %v failed: %v, output: %s", args, err, string(output))
		lastErr = err
	}
	return fmt.Errorf("all unmount attempts failed for %s: %w", mountPoint, lastErr)
}

// IsMounted checks if a path is a mount point by checking the mount table
func IsMounted(mountPoint string) bool {
	output, err := exec.Command("mount").Output()
	if err != nil {
		return false
	}

	// On macOS, /tmp -> /private/tmp and /var -> /private/var, so paths like
	// /tmp/foo appear as /private/tmp/foo in the mount table.
	realPath, err := filepath.EvalSymlinks(mountPoint)
	if err != nil {
		realPath = mountPoint
	}
	return containsMount(string(output), realPath)
}
