package runner

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	sshconfig "github.com/kevinburke/ssh_config"
)

// aliasTable is a parsed ssh_config. A bastion configured as an alias
// resolves the same way `ssh <alias>` would.
type aliasTable struct {
	cfg *sshconfig.Config
}

// readAliasTable never fails: a missing or unparsable file resolves nothing.
func readAliasTable(path string) aliasTable {
	f, err := os.Open(path)
	if err != nil {
		return aliasTable{}
	}
	defer func() { _ = f.Close() }()

	cfg, err := sshconfig.Decode(f)
	if err != nil {
		return aliasTable{}
	}
	return aliasTable{cfg: cfg}
}

func (a aliasTable) lookup(alias, key string) string {
	if a.cfg == nil {
		return ""
	}
	v, _ := a.cfg.Get(alias, key)
	return v
}

// resolve fills unset fields from the alias entry. Explicit settings win,
// except Host, which HostName replaces.
func (a aliasTable) resolve(b Bastion) Bastion {
	alias := b.Host
	if h := a.lookup(alias, "HostName"); h != "" {
		b.Host = h
	}
	if b.User == "" {
		b.User = a.lookup(alias, "User")
	}
	if b.Port == 0 {
		if p, err := strconv.Atoi(a.lookup(alias, "Port")); err == nil && p > 0 {
			b.Port = p
		}
	}
	if b.IdentityFile == "" && a.cfg != nil {
		if files, _ := a.cfg.GetAll(alias, "IdentityFile"); len(files) > 0 {
			b.IdentityFile = expandHome(files[0])
		}
	}
	return b
}

func resolveFromUserConfig(b Bastion) Bastion {
	home, err := os.UserHomeDir()
	if err != nil {
		return b
	}
	return readAliasTable(filepath.Join(home, ".ssh", "config")).resolve(b)
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
