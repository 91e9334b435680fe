package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/wrenhollis/holdfast/internal/runner"
)

// DeviceKind identifies which remote device a collection targets.
type DeviceKind string

const (
	// KindRouter is the OpenWrt router.
	KindRouter DeviceKind = "router"
	// KindPihole is the Pi-hole DNS appliance.
	KindPihole DeviceKind = "pihole"
)

// Device describes one remote device and the commands that produce its
// configuration bundle.
type Device struct {
	Kind DeviceKind
	// Addr is the user@host the transport connects to.
	Addr string
	// BundleCommand produces the bundle at RemotePath on the device.
	BundleCommand string
	// RemotePath is where the bundle lands on the device.
	RemotePath string
	// StagingDir is the local directory the bundle is extracted into,
	// relative to the collector's working directory.
	StagingDir string
}

// RouterDevice describes the OpenWrt router: its /etc tree is tarred up
// remotely and fetched.
func RouterDevice(addr string) Device {
	const remoteTar = "/tmp/openwrt-config.tar.gz"
	return Device{
		Kind:          KindRouter,
		Addr:          addr,
		BundleCommand: fmt.Sprintf("tar -czf %s /etc", remoteTar),
		RemotePath:    remoteTar,
		StagingDir:    "openwrt-backup",
	}
}

// PiholeDevice describes the Pi-hole appliance: its Teleporter export is
// written to an explicit path so the fetch needs no remote globbing.
func PiholeDevice(addr string) Device {
	const remoteTar = "/tmp/pihole-teleporter.tar.gz"
	return Device{
		Kind:          KindPihole,
		Addr:          addr,
		BundleCommand: fmt.Sprintf("pihole -a -t %s", remoteTar),
		RemotePath:    remoteTar,
		StagingDir:    "pi-hole-backup",
	}
}

// Result is the outcome of collecting one device's bundle.
type Result struct {
	Kind      DeviceKind
	Succeeded bool
	// StagingDir is the extracted bundle directory, set on success.
	StagingDir string
	Err        string
}

// Collector fetches configuration bundles and stages them locally.
type Collector struct {
	transport Transport
	run       runner.Runner
	// workDir is the local directory bundles are downloaded to and
	// extracted under.
	workDir string
	logger  zerolog.Logger
}

// NewCollector creates a Collector staging bundles under workDir.
func NewCollector(transport Transport, run runner.Runner, workDir string, logger zerolog.Logger) *Collector {
	return &Collector{
		transport: transport,
		run:       run,
		workDir:   workDir,
		logger:    logger.With().Str("component", "collector").Logger(),
	}
}

// Collect runs the four-step collection protocol for one device: produce
// the bundle remotely, fetch it, delete the remote copy, extract it into a
// fresh staging directory. The first failing step aborts the rest; the
// outcome is reported through the Result, never as an error.
//
// A staging directory left over from a crashed prior run fails the
// collection rather than being silently overwritten: cleanup is the
// pipeline's job, and a surviving directory means cleanup never ran.
func (c *Collector) Collect(ctx context.Context, dev Device) Result {
	log := c.logger.With().Str("device", string(dev.Kind)).Logger()
	log.Info().Str("host", dev.Addr).Msg("collecting device configuration")

	fail := func(step string, err error) Result {
		log.Error().Err(err).Str("step", step).Msg("collection failed")
		return Result{Kind: dev.Kind, Err: fmt.Sprintf("%s: %v", step, err)}
	}

	if err := c.transport.Exec(ctx, dev.Addr, dev.BundleCommand); err != nil {
		return fail("produce bundle", err)
	}

	localBundle := filepath.Join(c.workDir, filepath.Base(dev.RemotePath))
	if err := c.transport.Fetch(ctx, dev.Addr, dev.RemotePath, localBundle); err != nil {
		return fail("fetch bundle", err)
	}

	if err := c.transport.Exec(ctx, dev.Addr, fmt.Sprintf("rm -f %s", dev.RemotePath)); err != nil {
		return fail("remove remote bundle", err)
	}

	stagingDir := filepath.Join(c.workDir, dev.StagingDir)
	if err := os.Mkdir(stagingDir, 0o755); err != nil {
		return fail("create staging directory", err)
	}

	if _, err := runner.RunChecked(ctx, c.run, "tar", "-xzf", localBundle, "-C", stagingDir); err != nil {
		return fail("extract bundle", err)
	}

	log.Info().Str("staging_dir", stagingDir).Msg("device configuration staged")
	return Result{Kind: dev.Kind, Succeeded: true, StagingDir: stagingDir}
}

// Cleanup removes the staging directory and downloaded bundle for a
// device. Safe to call whether or not the collection succeeded.
func (c *Collector) Cleanup(dev Device) {
	for _, path := range []string{
		filepath.Join(c.workDir, dev.StagingDir),
		filepath.Join(c.workDir, filepath.Base(dev.RemotePath)),
	} {
		if err := os.RemoveAll(path); err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("cleanup failed")
		}
	}
}
