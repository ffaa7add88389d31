// Package ocp creates OpenShift clusters with openshift-install.
package ocp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
	"github.com/cloudjanitor/cloudjanitor/pkg/render"
	"github.com/cloudjanitor/cloudjanitor/pkg/shell"
)

// Inputs read by the cluster task.
const (
	InputClusterName    engine.Input = "ocp.clusterName"
	InputBaseDomain     engine.Input = "ocp.baseDomain"
	InputSSHKey         engine.Input = "ocp.sshKey"
	InputPullSecret     engine.Input = "ocp.pullSecret"
	InputAWSRegion      engine.Input = "ocp.awsRegion"
	InputClusterProfile engine.Input = "ocp.clusterProfile"
)

// Outputs produced by the cluster task.
const (
	OutputClusterDir    engine.Output = "ocp.clusterDir"
	OutputInstallConfig engine.Output = "ocp.installConfig"
	OutputInstallLog    engine.Output = "ocp.installLog"
)

const installTimeout = 90 * time.Minute

// Profile selects an install-config template and whether cloud
// credentials are created up front with ccoctl.
type Profile struct {
	Name   string
	Ccoctl bool
}

var profiles = map[string]Profile{
	"aws-default": {Name: "aws-default"},
	"aws-sts":     {Name: "aws-sts", Ccoctl: true},
}

// DefaultProfile is used when ocp.clusterProfile is not set.
const DefaultProfile = "aws-default"

// ParseProfile looks up a profile by name.
func ParseProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown cluster profile %q", name)
	}
	return p, nil
}

const mirror = "https://mirror.openshift.com/pub/openshift-v4/clients/ocp/stable/"

func installFrom(archive, binary string) []string {
	return []string{"sh", "-c", fmt.Sprintf(
		`mkdir -p "$HOME/.local/bin" && curl -sSfL %s%s | tar -xz -C "$HOME/.local/bin" %s`,
		mirror, archive, binary)}
}

var (
	installOpenshiftInstall = shell.Install{
		"linux":  installFrom("openshift-install-linux.tar.gz", "openshift-install"),
		"darwin": installFrom("openshift-install-mac.tar.gz", "openshift-install"),
	}
	installCcoctl = shell.Install{
		"linux": installFrom("ccoctl-linux.tar.gz", "ccoctl"),
	}
)

// CreateClusterTask renders install-config.yaml into an empty cluster
// directory and runs openshift-install.
type CreateClusterTask struct {
	engine.BaseTask

	Renderer *render.Renderer
	Shell    shell.Runner
}

// NewCreateClusterTask creates a cluster task.
func NewCreateClusterTask(r *render.Renderer, sh shell.Runner) *CreateClusterTask {
	return &CreateClusterTask{Renderer: r, Shell: sh}
}

func (t *CreateClusterTask) DeclaredName() string { return "openshift-create-cluster" }

// IsWrite is false so a dry run still renders the configuration; the
// installer itself runs as a write delegate.
func (t *CreateClusterTask) IsWrite() bool { return false }

func (t *CreateClusterTask) WaitAfterRun() (time.Duration, bool) { return 0, false }

func (t *CreateClusterTask) Apply(ctx context.Context) error {
	if t.Renderer == nil {
		return t.Fail("no template renderer configured")
	}
	name, err := t.ExpectInputString(InputClusterName)
	if err != nil {
		return err
	}
	profile, err := ParseProfile(t.InputString(InputClusterProfile, DefaultProfile))
	if err != nil {
		return t.Fail(err.Error())
	}
	t.Log().Debug().Str("cluster", name).Str("profile", profile.Name).Msg("creating cluster")

	dir, err := t.clusterDir(name)
	if err != nil {
		return t.FailErr("cluster directory", err)
	}
	empty, err := isEmptyDir(dir)
	if err != nil {
		return t.FailErr("cluster directory", err)
	}
	if !empty {
		return t.Failf("cluster directory %s is not empty", dir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return t.FailErr("cluster directory", err)
	}
	t.Success(OutputClusterDir, dir)

	if err := t.ensureCommands(ctx, profile); err != nil {
		return err
	}

	data, err := t.configData(name, dir)
	if err != nil {
		return err
	}

	if profile.Ccoctl {
		if err := t.createCredentials(ctx, name, dir, data["awsRegion"]); err != nil {
			return err
		}
	}

	cfg := filepath.Join(dir, "install-config.yaml")
	template := fmt.Sprintf("ocp/%s/install-config.yaml", profile.Name)
	if err := t.Renderer.RenderFile(template, data, cfg, "install-config"); err != nil {
		return t.FailErr("render install-config.yaml", err)
	}
	// openshift-install consumes install-config.yaml, keep a copy.
	if err := copyFile(cfg, filepath.Join(dir, "install-config.bak.yaml")); err != nil {
		return t.FailErr("back up install-config.yaml", err)
	}
	t.Success(OutputInstallConfig, cfg)

	return t.createCluster(ctx, dir)
}

func (t *CreateClusterTask) clusterDir(name string) (string, error) {
	rc := t.RunContext()
	if rc == nil {
		return "", errors.New("task is not bound to a run")
	}
	return filepath.Join(rc.ExecutionDir(), "ocp", name), nil
}

func (t *CreateClusterTask) ensureCommands(ctx context.Context, p Profile) error {
	if p.Ccoctl {
		if err := t.Shell.EnsureCommand(ctx, t, "ccoctl", installCcoctl); err != nil {
			return err
		}
	}
	return t.Shell.EnsureCommand(ctx, t, "openshift-install", installOpenshiftInstall)
}

// configData collects the template inputs. A missing ssh key is replaced
// by a fresh ed25519 key pair kept in the cluster directory.
func (t *CreateClusterTask) configData(name, dir string) (map[string]string, error) {
	data := map[string]string{"clusterName": name}
	for key, in := range map[string]engine.Input{
		"baseDomain": InputBaseDomain,
		"pullSecret": InputPullSecret,
		"awsRegion":  InputAWSRegion,
	} {
		v, err := t.ExpectInputString(in)
		if err != nil {
			return nil, err
		}
		data[key] = v
	}

	key := t.InputString(InputSSHKey, "")
	if key == "" {
		pub, err := GenerateSSHKey(filepath.Join(dir, "id_ed25519"), "cj@"+name)
		if err != nil {
			return nil, t.FailErr("generate ssh key", err)
		}
		t.Log().Info().Str("path", filepath.Join(dir, "id_ed25519")).Msg("generated ssh key")
		key = pub
	}
	data["sshKey"] = strings.TrimSpace(key)
	return data, nil
}

func (t *CreateClusterTask) createCredentials(ctx context.Context, name, dir, region string) error {
	if err := t.ExpectCapability(engine.CapCreateInstances); err != nil {
		return err
	}
	_, err := t.Shell.Exec(ctx, t, "ccoctl", "aws", "create-all",
		"--name="+name,
		"--region="+region,
		"--credentials-requests-dir="+filepath.Join(dir, "ccoctl-creds"),
		"--output-dir="+filepath.Join(dir, "ccoctl-output"))
	return err
}

func (t *CreateClusterTask) createCluster(ctx context.Context, dir string) error {
	if err := t.ExpectCapability(engine.CapCreateInstances); err != nil {
		return err
	}
	t.Log().Info().Msgf("creating cluster, follow with: tail -f %s", filepath.Join(dir, ".openshift_install.log"))
	out, err := t.Shell.ExecTimeout(ctx, t, installTimeout,
		"openshift-install", "create", "cluster", "--dir="+dir, "--log-level=debug")
	if err != nil {
		return err
	}
	t.Success(OutputInstallLog, out)
	t.Log().Debug().Msg("openshift-install finished")
	return nil
}

// GenerateSSHKey writes a new OpenSSH ed25519 private key to path and
// returns the authorized_keys line for it.
func GenerateSSHKey(path, comment string) (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return "", err
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " " + comment
	if err := os.WriteFile(path+".pub", []byte(line+"\n"), 0o644); err != nil {
		return "", err
	}
	return line, nil
}

func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o600)
}

// RegisterInputs binds the cluster inputs to their configuration paths.
func RegisterInputs(reg *engine.InputRegistry) {
	reg.Bind(InputClusterName, "ocp.cluster_name", nil)
	reg.Bind(InputBaseDomain, "ocp.base_domain", nil)
	reg.Bind(InputSSHKey, "ocp.ssh_key", nil)
	reg.Bind(InputPullSecret, "ocp.pull_secret", nil)
	reg.Bind(InputAWSRegion, "aws.region", nil)
	reg.Bind(InputClusterProfile, "ocp.cluster_profile", func() any { return DefaultProfile })
}

// Register adds the cluster task to reg.
func Register(reg *engine.Registry, r *render.Renderer, sh shell.Runner) error {
	return reg.Register("Creates an OpenShift cluster",
		func() engine.Task { return NewCreateClusterTask(r, sh) })
}
