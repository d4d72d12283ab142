package builder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/buildkite/roko"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/buildproto"
)

// Uploader ships a completed build's pkgout directory to the database
// host's landing zone over SFTP (spec.md §4.2 step 9).
type Uploader interface {
	Upload(target buildproto.SSHTarget, landingZone string, localDir string, files []string) error
}

// SSHUploader authenticates with the local agent/key material already
// loaded into the process's SSH environment — builders run alongside a
// provisioned key, never a password, per spec.md §6's DATABASE_* inputs.
type SSHUploader struct {
	Signer ssh.Signer
}

func NewSSHUploader(signer ssh.Signer) *SSHUploader {
	return &SSHUploader{Signer: signer}
}

// Upload opens one SSH connection, copies each named file from localDir
// into landingZone over SFTP, and only surfaces a debug trail on failure —
// it is never written to the build log (spec.md §4.2 step 9). Only the
// listed files are copied; subdirectories of localDir are not uploaded.
func (u *SSHUploader) Upload(target buildproto.SSHTarget, landingZone string, localDir string, files []string) (err error) {
	if u.Signer == nil {
		return fmt.Errorf("no ssh key configured for upload to %s", target.Host)
	}

	var debug bytes.Buffer
	defer func() {
		if err != nil {
			// Dumped only to the process's own stderr on failure, never to
			// the per-build log stream: it may contain host key material.
			fmt.Fprintf(os.Stderr, "ssh upload to %s failed, trace follows:\n%s\n", target.Host, debug.String())
		}
	}()

	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(u.Signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		BannerCallback: func(message string) error {
			debug.WriteString(message)
			return nil
		},
	}

	addr := fmt.Sprintf("%s:%d", target.Host, target.Port)
	var conn *ssh.Client
	dialErr := roko.NewRetrier(
		roko.WithMaxAttempts(5),
		roko.WithStrategy(roko.Constant(2*time.Second)),
	).DoWithContext(context.Background(), func(r *roko.Retrier) error {
		var dErr error
		conn, dErr = ssh.Dial("tcp", addr, cfg)
		if dErr != nil {
			fmt.Fprintf(&debug, "dial attempt %d to %s failed: %v\n", r.AttemptCount(), addr, dErr)
		}
		return dErr
	})
	if dialErr != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, dialErr)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("sftp session to %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.MkdirAll(landingZone); err != nil {
		return fmt.Errorf("mkdir %s: %w", landingZone, err)
	}

	for _, name := range files {
		if err := uploadOne(client, filepath.Join(localDir, name), landingZone+"/"+name); err != nil {
			return err
		}
	}
	return nil
}

func uploadOne(client *sftp.Client, localPath, remotePath string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer local.Close()

	remote, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote %s: %w", remotePath, err)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, local); err != nil {
		return fmt.Errorf("copy %s to %s: %w", localPath, remotePath, err)
	}
	return nil
}
