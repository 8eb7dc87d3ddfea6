package radmind

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

const (
	xhooksDir       = "./Library/Xhooks"
	triggerFiles    = "./Library/Xhooks/Preferences/triggerfiles"
	radmindLogDir   = "./private/var/log/radmind"
	xhooksConf      = "./Library/Xhooks/Modules/xhooks/bin/radmind_xhooks_conf.pl"
	updateDyldCache = "./usr/bin/update_dyld_shared_cache"
)

// RunPostMaintenance leaves the Xhooks state of the volume as if maintenance had just
// finished on the installed system. Volumes without Xhooks need none.
func (c *Client) RunPostMaintenance(ctx context.Context, diskLabel string) error {
	logger := c.logger().With("volume", diskLabel)
	if _, err := os.Stat(xhooksDir); err != nil {
		logger.Info("no Xhooks on volume, skipping post-maintenance")
		return nil
	}

	// Left behind when radmind stops before cleaning up after itself.
	stale := []string{
		filepath.Join(triggerFiles, "run_maintenance"),
		filepath.Join(triggerFiles, "run_maintenance_balanced"),
		filepath.Join(triggerFiles, "use_radmind_shadow"),
		filepath.Join(radmindLogDir, "wait_for_radmind"),
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &PhaseError{Kind: ErrPostMaintenance, Phase: "post-maintenance", Err: err}
		}
	}

	loginMessage := filepath.Join(triggerFiles, "loginpanel_message")
	lastRun := filepath.Join(radmindLogDir, "maintenance_lastrun")
	markers := []string{
		loginMessage,
		filepath.Join(triggerFiles, "logout_hook_finished"),
		filepath.Join(triggerFiles, "radmind_finished"),
		filepath.Join(triggerFiles, "radmind_xhooks_conf_finished"),
		lastRun,
		"./System/Library/Extensions",
	}
	for _, path := range markers {
		if err := touch(path); err != nil {
			logger.Debug("could not touch marker", "path", path, "error", err)
		}
	}

	now := c.now()
	if isFile(loginMessage) {
		banner := "--" + now.Format("1.2") + " 0"
		if err := os.WriteFile(loginMessage, []byte(banner), 0o644); err != nil {
			logger.Debug("could not write login banner", "error", err)
		}
	}
	if isFile(lastRun) {
		stamp := now.Format("15:04:05 01/02/06 MST") + "\n"
		if err := os.WriteFile(lastRun, []byte(stamp), 0o644); err != nil {
			logger.Debug("could not write last maintenance time", "error", err)
		}
	}

	for _, script := range [][]string{
		{xhooksConf},
		{updateDyldCache, "-root", ".", "-force", "-universal_boot"},
	} {
		code, err := c.run(ctx, script[0], script[1:], "")
		if err != nil {
			return &PhaseError{Kind: ErrPostMaintenance, Phase: filepath.Base(script[0]), Err: err}
		}
		if code != 0 {
			return &PhaseError{Kind: ErrPostMaintenance, Phase: filepath.Base(script[0]), ExitCode: code}
		}
	}
	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
