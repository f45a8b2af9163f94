package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wamcp.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wamcp")
}

// CredentialDir returns the directory holding the transport's credential
// store. The contents are owned and formatted by whatsmeow; the daemon
// treats the directory as an opaque blob.
func CredentialDir() string {
	return filepath.Join(BaseDir(), "credentials")
}

// CredentialDBPath returns the whatsmeow session.db path inside dir.
func CredentialDBPath(dir string) string {
	return filepath.Join(dir, "session.db")
}

// LockPath returns the single-instance lock file path.
func LockPath() string {
	return filepath.Join(BaseDir(), "LOCK")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "wamcpd.log")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the daemon directory tree with proper permissions.
// credentialDir may be an override from config; empty means the default.
func EnsureDirs(credentialDir string) error {
	if credentialDir == "" {
		credentialDir = CredentialDir()
	}
	dirs := []string{
		BaseDir(),
		LogDir(),
		credentialDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
