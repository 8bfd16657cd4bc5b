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

//go:build linux

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// NFSMount mounts the NFS export at mountPath using mount -t nfs
func NFSMount(ip string, port int, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	// go-nfs serves MOUNT and NFS on the same port and has no lock manager.
	cmd := exec.Command("mount", "-t", "nfs",
		"-o", fmt.Sprintf("port=%d,mountport=%d,nfsvers=3,tcp,nolock,soft,timeo=50,retrans=3,ro", port, port),
		fmt.Sprintf("%s:/", ip),
		mountPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount -t nfs failed: %w: %s", err, string(output))
	}
	return nil
}

// SMBMount mounts an SMB share using mount -t cifs with guest auth
func SMBMount(ip string, port int, shareName, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	unc := fmt.Sprintf("//%s/%s", ip, shareName)
	log.Debugf("Mount: running mount -t cifs %s -> %s", unc, mountPath)

	cmd := exec.Command("mount", "-t", "cifs",
		"-o", fmt.Sprintf("port=%d,guest,vers=3.0,ro", port),
		unc,
		mountPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount -t cifs failed: %w, output: %s", err, string(output))
	}
	return nil
}

// Unmount unmounts a filesystem, falling back to a lazy unmount when the
// server is already gone.
func Unmount(mountPoint string) error {
	log.Debugf("Unmount: attempting to unmount %s", mountPoint)

	if !IsMounted(mountPoint) {
		log.Debugf("Unmount: %s is not mounted, nothing to do", mountPoint)
		return nil
	}

	attempts := [][]string{
		{"umount", mountPoint},
		{"umount", "-f", mountPoint},
		{"umount", "-l", mountPoint},
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
	realPath, err := filepath.EvalSymlinks(mountPoint)
	if err != nil {
		realPath = mountPoint
	}
	return containsMount(string(output), realPath)
}
