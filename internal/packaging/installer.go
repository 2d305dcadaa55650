package packaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sdrwatch/sdrprov/internal/fsutil"
)

// UnitFileMode is the mode of generated unit files.
const UnitFileMode = 0o644

// StateDirMode is the mode of a newly created state directory.
const StateDirMode = 0o750

// RenderedFile is generated content bound for a path.
type RenderedFile struct {
	Path    string
	Content []byte
	Mode    os.FileMode
}

// RenderedUnit is a rendered service unit.
type RenderedUnit struct {
	Name string
	RenderedFile
}

// Rendered is the complete output of Render, written by Install.
type Rendered struct {
	EnvFile RenderedFile
	Units   []RenderedUnit
}

// InstallResult records what Install changed on the host.
type InstallResult struct {
	EnvFileChanged  bool
	ChangedUnits    []string
	StateDirChanged bool
	Reloaded        bool
	Started         []string
	Inactive        []string
}

// Installer renders and installs the SDRWatch service pair.
type Installer struct {
	cfg     InstallConfig
	systemd ServiceManager
	units   []Unit
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewInstaller creates a new Installer with defaults applied.
func NewInstaller(cfg InstallConfig, systemd ServiceManager, logger *slog.Logger) *Installer {
	cfg.ApplyDefaults()
	return &Installer{
		cfg:     cfg,
		systemd: systemd,
		units:   ServiceUnits(cfg),
		logger:  logger.With("component", "packaging"),
		sleep:   sleepContext,
	}
}

// Config returns the effective configuration.
func (ins *Installer) Config() InstallConfig {
	return ins.cfg
}

// Units returns the units in start order.
func (ins *Installer) Units() []Unit {
	return append([]Unit(nil), ins.units...)
}

// Render produces the environment file and every unit without touching the
// host. Each template is rendered fully before anything is returned.
func (ins *Installer) Render(env *EnvRecord, b Bindings) (*Rendered, error) {
	if err := ins.cfg.Validate(); err != nil {
		return nil, err
	}

	envContent, err := env.Render()
	if err != nil {
		return nil, err
	}
	out := &Rendered{
		EnvFile: RenderedFile{Path: ins.cfg.EnvFilePath, Content: envContent, Mode: EnvFileMode},
	}

	for _, u := range ins.units {
		text, err := u.Template.Render(b)
		if err != nil {
			return nil, err
		}
		if err := validateUnit(u.Name, text); err != nil {
			return nil, err
		}
		out.Units = append(out.Units, RenderedUnit{
			Name:         u.Name,
			RenderedFile: RenderedFile{Path: u.Path, Content: []byte(text), Mode: UnitFileMode},
		})
	}
	return out, nil
}

// Install writes r to disk, reloads systemd and enables and starts every unit
// in order. Files whose content is unchanged are not rewritten.
func (ins *Installer) Install(ctx context.Context, r *Rendered) (InstallResult, error) {
	var res InstallResult

	// 1. Check systemd
	if !ins.systemd.IsAvailable() {
		return res, errors.New("packaging: systemd is not available")
	}

	// 2. Write environment file
	changed, err := fsutil.WriteIfChanged(r.EnvFile.Path, r.EnvFile.Content, r.EnvFile.Mode)
	if err != nil {
		return res, fmt.Errorf("packaging: write env file: %w", err)
	}
	res.EnvFileChanged = changed
	if err := ins.chownGroup(r.EnvFile.Path); err != nil {
		return res, err
	}
	if changed {
		ins.logger.Info("env file written", "path", r.EnvFile.Path, "group", ins.cfg.Group)
	} else {
		ins.logger.Info("env file already satisfied", "path", r.EnvFile.Path)
	}

	// 3. Write unit files
	for _, u := range r.Units {
		changed, err := fsutil.WriteIfChanged(u.Path, u.Content, u.Mode)
		if err != nil {
			return res, fmt.Errorf("packaging: write unit file %s: %w", u.Name, err)
		}
		if changed {
			res.ChangedUnits = append(res.ChangedUnits, u.Name)
			ins.logger.Info("unit file written", "unit", u.Name, "path", u.Path)
		} else {
			ins.logger.Info("unit file already satisfied", "unit", u.Name)
		}
	}

	// 4. Ensure the state directory
	changed, err = ins.ensureStateDir()
	if err != nil {
		return res, err
	}
	res.StateDirChanged = changed

	// 5. Daemon reload
	if res.EnvFileChanged || len(res.ChangedUnits) > 0 {
		if err := ins.systemd.DaemonReload(ctx); err != nil {
			return res, fmt.Errorf("packaging: daemon-reload: %w", err)
		}
		res.Reloaded = true
		ins.logger.Info("systemd daemon reloaded")
	}

	// 6. Enable and start in order
	for i, u := range r.Units {
		if i > 0 && ins.cfg.StartDelay > 0 {
			if err := ins.sleep(ctx, ins.cfg.StartDelay); err != nil {
				return res, fmt.Errorf("packaging: wait before %s: %w", u.Name, err)
			}
		}
		if err := ins.systemd.EnableNow(ctx, u.Name); err != nil {
			return res, fmt.Errorf("packaging: enable --now %s (inspect with: journalctl -u %s): %w", u.Name, u.Name, err)
		}
		res.Started = append(res.Started, u.Name)
		ins.logger.Info("unit enabled and started", "unit", u.Name)
	}

	// 7. Report units that did not stay up
	for _, u := range r.Units {
		if !ins.systemd.IsActive(ctx, u.Name) {
			res.Inactive = append(res.Inactive, u.Name)
			ins.logger.Warn("unit not active after start", "unit", u.Name, "hint", "journalctl -u "+u.Name)
		}
	}
	return res, nil
}

func (ins *Installer) chownGroup(path string) error {
	gid, err := lookupGID(ins.cfg.Group)
	if err != nil || gid < 0 {
		return err
	}
	if err := os.Chown(path, -1, gid); err != nil {
		return fmt.Errorf("packaging: chown %s: %w", path, err)
	}
	return nil
}

// ensureStateDir creates the state directory when missing and hands it to
// the service user. It reports whether anything changed.
func (ins *Installer) ensureStateDir() (bool, error) {
	dir := ins.cfg.StateDir
	if dir == "" {
		return false, nil
	}
	uid, err := lookupUID(ins.cfg.User)
	if err != nil {
		return false, err
	}
	gid, err := lookupGID(ins.cfg.Group)
	if err != nil {
		return false, err
	}

	changed := false
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, StateDirMode); err != nil {
			return false, fmt.Errorf("packaging: create state dir %s: %w", dir, err)
		}
		if err := os.Chmod(dir, StateDirMode); err != nil {
			return false, fmt.Errorf("packaging: chmod state dir %s: %w", dir, err)
		}
		changed = true
	} else if err != nil {
		return false, fmt.Errorf("packaging: stat state dir %s: %w", dir, err)
	}

	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return false, fmt.Errorf("packaging: stat state dir %s: %w", dir, err)
	}
	if (uid >= 0 && int(st.Uid) != uid) || (gid >= 0 && int(st.Gid) != gid) {
		if err := os.Chown(dir, uid, gid); err != nil {
			return false, fmt.Errorf("packaging: chown state dir %s: %w", dir, err)
		}
		changed = true
	}

	if changed {
		ins.logger.Info("state dir prepared", "path", dir, "user", ins.cfg.User, "group", ins.cfg.Group)
	} else {
		ins.logger.Info("state dir already satisfied", "path", dir)
	}
	return changed, nil
}

// lookupUID resolves a user name. Empty yields -1.
func lookupUID(name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return -1, fmt.Errorf("packaging: lookup user %s: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return -1, fmt.Errorf("packaging: user %s: bad uid %q", name, u.Uid)
	}
	return uid, nil
}

// lookupGID resolves a group name. Empty yields -1.
func lookupGID(name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return -1, fmt.Errorf("packaging: lookup group %s: %w", name, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return -1, fmt.Errorf("packaging: group %s: bad gid %q", name, g.Gid)
	}
	return gid, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
