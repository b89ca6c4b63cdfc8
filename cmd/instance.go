package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/surge-downloader/surge-core/internal/utils"
)

// instanceLock guards against two "server start" invocations racing each
// other, reusing gofrs/flock rather than a second locking primitive.
type instanceLock struct {
	fl *flock.Flock
}

func acquireInstanceLock(dir string) (*instanceLock, bool, error) {
	fl := flock.New(filepath.Join(dir, "server.lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("cmd: acquiring instance lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &instanceLock{fl: fl}, true, nil
}

func (l *instanceLock) release() {
	if err := l.fl.Unlock(); err != nil {
		utils.Debug("cmd: releasing instance lock: %v", err)
	}
}

func pidFilePath(dir string) string { return filepath.Join(dir, "pid") }

func savePID(dir string, pid int) {
	path := pidFilePath(dir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		utils.Debug("cmd: writing PID file: %v", err)
	}
}

func removePID(dir string) {
	if err := os.Remove(pidFilePath(dir)); err != nil && !os.IsNotExist(err) {
		utils.Debug("cmd: removing PID file: %v", err)
	}
}

func readPID(dir string) int {
	data, err := os.ReadFile(pidFilePath(dir))
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(string(data))
	return pid
}

func portFilePath(dir string) string { return filepath.Join(dir, "port") }

func savePort(dir string, port int) {
	if err := os.WriteFile(portFilePath(dir), []byte(strconv.Itoa(port)), 0644); err != nil {
		utils.Debug("cmd: writing port file: %v", err)
	}
}

func removePort(dir string) {
	if err := os.Remove(portFilePath(dir)); err != nil && !os.IsNotExist(err) {
		utils.Debug("cmd: removing port file: %v", err)
	}
}

func readPort(dir string) int {
	data, err := os.ReadFile(portFilePath(dir))
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(string(data))
	return port
}

func tokenFilePath(dir string) string { return filepath.Join(dir, "token") }

// ensureAuthToken returns the daemon's bearer token, minting and persisting
// one on first use. The token is an opaque UUID, not itself a time-ordered
// identity, so uuid.New (v4) is used rather than internal/identity.New.
func ensureAuthToken(dir string) (string, error) {
	path := tokenFilePath(dir)
	if data, err := os.ReadFile(path); err == nil {
		return string(data), nil
	}

	token := uuid.New().String()
	if err := os.WriteFile(path, []byte(token), 0600); err != nil {
		return "", fmt.Errorf("cmd: writing token file: %w", err)
	}
	return token, nil
}
