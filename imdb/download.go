// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imdb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// download the file from url and save it at the given filePath, displaying a progress bar --
// the corpus tarball is ~80MB, and a silent download looks like a hang.
func download(url, filePath string) error {
	filePath = fsutil.MustReplaceTildeInDir(filePath)
	if err := os.MkdirAll(path.Dir(filePath), 0777); err != nil && !os.IsExist(err) {
		return errors.Wrapf(err, "failed to create directory %q", path.Dir(filePath))
	}
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed creating file %q", filePath)
	}
	client := http.Client{
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			r.URL.Opaque = r.URL.Path
			return nil
		},
	}
	resp, err := client.Get(url)
	if err != nil {
		return errors.Wrapf(err, "failed downloading %q", url)
	}
	bar := progressbar.DefaultBytes(resp.ContentLength, "downloading")
	_, err = io.Copy(io.MultiWriter(file, bar), resp.Body)
	if err != nil {
		return errors.Wrapf(err, "downloading %q to %q", url, filePath)
	}
	if err = file.Close(); err != nil {
		return errors.Wrapf(err, "failed closing %q", filePath)
	}
	if err = resp.Body.Close(); err != nil {
		return errors.Wrapf(err, "failed closing connection to %q", url)
	}
	fmt.Println()
	return nil
}

// validateChecksum verifies that the sha256 of the file in the given path matches checkHash.
// If it fails, it removes the file (!) and returns an error.
func validateChecksum(path, checkHash string) error {
	hasher := sha256.New()
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close() // Discard reading error on Close.
	}()
	if _, err = io.Copy(hasher, f); err != nil {
		return err
	}
	fileHash := hex.EncodeToString(hasher.Sum(nil))
	if fileHash != strings.ToLower(checkHash) {
		err = errors.Errorf("file %q sha256 hash is %q, but expected %q, deleting file",
			path, fileHash, checkHash)
		if e2 := os.Remove(path); e2 != nil {
			fmt.Printf("Failed to remove %q, which failed checksum test. Please remove it. %+v\n", path, e2)
		}
		return err
	}
	return nil
}

// downloadIfMissing checks if filePath exists already, and if not downloads it from url.
// If checkHash is provided, it checks that the file has the hash or fails.
func downloadIfMissing(url, filePath, checkHash string) error {
	filePath = fsutil.MustReplaceTildeInDir(filePath)
	if !fsutil.MustFileExists(filePath) {
		fmt.Printf("Downloading %s ...\n", url)
		if err := download(url, filePath); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return validateChecksum(filePath, checkHash)
}

// untar file under baseDir, using decompression flags according to the suffix:
// .gz/.tgz for gzip, .bz2 for bzip2.
func untar(baseDir, tarFile string) error {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	compressionFlag := ""
	if strings.HasSuffix(tarFile, ".gz") || strings.HasSuffix(tarFile, ".tgz") {
		compressionFlag = "z"
	} else if strings.HasSuffix(tarFile, ".bz2") {
		compressionFlag = "j"
	}
	cmd := exec.Command("tar", fmt.Sprintf("x%sf", compressionFlag), tarFile)
	cmd.Dir = baseDir
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "failed to run %q", cmd)
	}
	return nil
}

// downloadAndUntarIfMissing downloads tarFile from the given url, if not there yet, and
// then untars it if the target directory is missing.
func downloadAndUntarIfMissing(url, baseDir, tarFile, targetUntarDir, checkHash string) error {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	if !path.IsAbs(tarFile) {
		tarFile = path.Join(baseDir, tarFile)
	}
	if !path.IsAbs(targetUntarDir) {
		targetUntarDir = path.Join(baseDir, targetUntarDir)
	}
	if fsutil.MustFileExists(targetUntarDir) {
		return nil
	}
	if err := downloadIfMissing(url, tarFile, checkHash); err != nil {
		return err
	}
	if err := untar(baseDir, tarFile); err != nil {
		return err
	}
	if !fsutil.MustFileExists(targetUntarDir) {
		return errors.Errorf("downloaded from %q and untar'ed %q, but didn't get directory %q",
			url, tarFile, targetUntarDir)
	}
	return nil
}
