// Package config loads and manipulates the TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bunburya/uzak"
)

// Archive is one [[archive]] watch-list section.
type Archive struct {
	Project  string `toml:"project"`
	Language string `toml:"language"`
	Flavor   string `toml:"flavor"`
}

// Reference converts the section to a domain reference.
func (a Archive) Reference() uzak.ArchiveReference {
	return uzak.ArchiveReference{
		Project:  a.Project,
		Language: a.Language,
		Flavor:   a.Flavor,
	}
}

// Torrent is the optional [qbittorrent] section. Its presence selects the
// torrent download strategy.
type Torrent struct {
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	Username            string `toml:"username"`
	Password            string `toml:"password"`
	PollIntervalSeconds int    `toml:"poll_interval"`
}

// PollInterval returns the configured completion poll cadence, defaulting to
// 10 seconds.
func (t Torrent) PollInterval() time.Duration {
	if t.PollIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.PollIntervalSeconds) * time.Second
}

// Config is the full configuration file.
type Config struct {
	ContentURL      string    `toml:"content_url"`
	BaseDir         string    `toml:"base_dir"`
	DeleteOld       bool      `toml:"delete_old"`
	KiwixManageExec string    `toml:"kiwix_manage_exec"`
	Archives        []Archive `toml:"archive"`
	QBittorrent     *Torrent  `toml:"qbittorrent"`

	// Path is the file the configuration was loaded from.
	Path string `toml:"-"`
}

// Load reads the configuration from path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	cfg.Path = path

	if cfg.ContentURL == "" {
		return nil, fmt.Errorf("config %s: content_url is required", path)
	}
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("config %s: base_dir is required", path)
	}
	if cfg.KiwixManageExec == "" {
		return nil, fmt.Errorf("config %s: kiwix_manage_exec is required", path)
	}
	return &cfg, nil
}

// DefaultPath returns the conventional configuration file location for the
// current user.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config dir: %w", err)
	}
	return filepath.Join(dir, "uzak", "config.toml"), nil
}

// ArchiveDir is the directory archive files are downloaded into.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.BaseDir, "archives")
}

// LibraryPath is the content-server library file.
func (c *Config) LibraryPath() string {
	return filepath.Join(c.BaseDir, "library.xml")
}

// DBPath is the archive store database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.BaseDir, "archives.db")
}

// References returns the watch list as a set keyed by reference.
func (c *Config) References() map[uzak.ArchiveReference]struct{} {
	refs := make(map[uzak.ArchiveReference]struct{}, len(c.Archives))
	for _, a := range c.Archives {
		refs[a.Reference()] = struct{}{}
	}
	return refs
}

// Watched reports whether ref is on the watch list.
func (c *Config) Watched(ref uzak.ArchiveReference) bool {
	_, ok := c.References()[ref]
	return ok
}

// Section renders a reference as an [[archive]] block suitable for appending
// to a configuration file.
func Section(ref uzak.ArchiveReference) string {
	var b strings.Builder
	b.WriteString("[[archive]]\n")
	fmt.Fprintf(&b, "project = %q\n", ref.Project)
	fmt.Fprintf(&b, "language = %q\n", ref.Language)
	fmt.Fprintf(&b, "flavor = %q\n", ref.Flavor)
	return b.String()
}

// Append adds ref to the watch list, both in the loaded configuration and in
// the underlying file.
func (c *Config) Append(ref uzak.ArchiveReference) error {
	f, err := os.OpenFile(c.Path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening config for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\n%s", Section(ref)); err != nil {
		return fmt.Errorf("appending to config: %w", err)
	}

	c.Archives = append(c.Archives, Archive{
		Project:  ref.Project,
		Language: ref.Language,
		Flavor:   ref.Flavor,
	})
	return nil
}
