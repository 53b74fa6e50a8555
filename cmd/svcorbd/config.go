package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"svcorb/internal/config"
	"svcorb/internal/ldap"
	"svcorb/internal/security"
)

// secretPassphraseEnv names the environment variable holding the
// passphrase that decrypts an at-rest-encrypted cluster secret file
// (cluster.conf's secret_file keyword), per spec.md §6's auth.conf.
const secretPassphraseEnv = "SVCORB_SECRET_PASSPHRASE"

// clusterConfig is the daemon's parsed view of cluster.conf: the [cluster]
// section plus zero or more [hb#<name>] heartbeat driver sections and an
// optional [ldap] section, scoped down to what svcorbd needs at startup.
type clusterConfig struct {
	ClusterName string
	Secret      string
	Nodes       []string

	QuorumEnabled bool
	Arbitrators   []arbitratorConfig

	HBPeriod  time.Duration
	HBTimeout time.Duration

	TelegramBotToken string
	TelegramChatID   string

	HBDrivers []hbDriverConfig

	LDAP *ldap.Config
}

type arbitratorConfig struct {
	Name string
	URL  string
}

// hbDriverConfig carries every driver kind's params; only the fields for
// Kind are meaningful, the rest are zero.
type hbDriverConfig struct {
	Kind string // "unicast", "multicast", "disk", "relay"

	Listen string            // unicast
	Peers  map[string]string // unicast: peer -> host:port

	MulticastAddr  string
	MulticastIface string

	DiskPath      string
	DiskSelfSlot  int
	DiskPeerSlots map[string]int

	RelayURL     string
	RelayPeers   []string
}

func clusterRegistry() *config.Registry {
	return config.NewRegistry([]config.KeywordMeta{
		{Section: "cluster", Keyword: "name", Required: true},
		{Section: "cluster", Keyword: "secret", Default: ""},
		{Section: "cluster", Keyword: "secret_file", Default: ""},
		{Section: "cluster", Keyword: "nodes", Converter: config.ConvList},
		{Section: "cluster", Keyword: "quorum_enabled", Converter: config.ConvBoolean, Default: "true"},
		{Section: "cluster", Keyword: "arbitrators", Converter: config.ConvList},
		{Section: "cluster", Keyword: "hb_period", Converter: config.ConvDuration, Default: "5s"},
		{Section: "cluster", Keyword: "hb_timeout", Converter: config.ConvDuration, Default: "15s"},
		{Section: "cluster", Keyword: "telegram_bot_token", Default: ""},
		{Section: "cluster", Keyword: "telegram_chat_id", Default: ""},

		{Section: "hb", Keyword: "listen", Default: ""},
		{Section: "hb", Keyword: "peers", Converter: config.ConvList},
		{Section: "hb", Keyword: "addr", Default: ""},
		{Section: "hb", Keyword: "iface", Default: ""},
		{Section: "hb", Keyword: "path", Default: ""},
		{Section: "hb", Keyword: "self_slot", Converter: config.ConvInteger, Default: "1"},
		{Section: "hb", Keyword: "peer_slots", Converter: config.ConvList},
		{Section: "hb", Keyword: "url", Default: ""},

		{Section: "ldap", Keyword: "enabled", Converter: config.ConvBoolean, Default: "false"},
		{Section: "ldap", Keyword: "server", Default: ""},
		{Section: "ldap", Keyword: "port", Converter: config.ConvInteger, Default: "389"},
		{Section: "ldap", Keyword: "use_tls", Converter: config.ConvBoolean, Default: "false"},
		{Section: "ldap", Keyword: "bind_dn", Default: ""},
		{Section: "ldap", Keyword: "bind_password", Default: ""},
		{Section: "ldap", Keyword: "base_dn", Default: ""},
		{Section: "ldap", Keyword: "user_filter", Default: "(sAMAccountName={username})"},
		{Section: "ldap", Keyword: "user_id_attribute", Default: "sAMAccountName"},
		{Section: "ldap", Keyword: "user_name_attribute", Default: "displayName"},
		{Section: "ldap", Keyword: "user_email_attribute", Default: "mail"},
		{Section: "ldap", Keyword: "group_base_dn", Default: ""},
		{Section: "ldap", Keyword: "group_filter", Default: "(member={user_dn})"},
		{Section: "ldap", Keyword: "group_member_attribute", Default: "member"},
		{Section: "ldap", Keyword: "timeout", Converter: config.ConvInteger, Default: "10"},
		{Section: "ldap", Keyword: "group_mappings", Converter: config.ConvList},
		{Section: "ldap", Keyword: "jit_provisioning", Converter: config.ConvBoolean, Default: "true"},
		{Section: "ldap", Keyword: "default_role", Default: "viewer"},
	})
}

// loadClusterConfig reads path through internal/config's keyword engine
// and shapes the result into a clusterConfig. self feeds the
// ResolveContext so {nodename} and scoped keys resolve correctly even
// though the daemon's own config is node-agnostic (no per-node sections
// are expected here). Builtins are left empty.
func loadClusterConfig(path, self string) (*clusterConfig, error) {
	registry := clusterRegistry()
	cfg, err := config.Load(path, registry, config.Builtins{})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	snap := cfg.Snapshot()
	ctx := config.ResolveContext{NodeName: self}

	out := &clusterConfig{}

	out.ClusterName, err = snap.GetString("cluster", "name", ctx)
	if err != nil {
		return nil, err
	}
	out.Secret, _ = snap.GetString("cluster", "secret", ctx)
	if secretFile, _ := snap.GetString("cluster", "secret_file", ctx); secretFile != "" {
		secret, err := loadEncryptedSecret(secretFile)
		if err != nil {
			return nil, err
		}
		out.Secret = secret
	}
	if out.Secret == "" {
		return nil, fmt.Errorf("cluster.conf: one of secret or secret_file is required")
	}
	if v, err := snap.Get("cluster", "nodes", ctx, true); err == nil {
		out.Nodes, _ = v.([]string)
	}
	if v, err := snap.Get("cluster", "quorum_enabled", ctx, true); err == nil {
		out.QuorumEnabled, _ = v.(bool)
	}
	if v, err := snap.Get("cluster", "hb_period", ctx, true); err == nil {
		if secs, ok := v.(int64); ok {
			out.HBPeriod = time.Duration(secs) * time.Second
		}
	}
	if v, err := snap.Get("cluster", "hb_timeout", ctx, true); err == nil {
		if secs, ok := v.(int64); ok {
			out.HBTimeout = time.Duration(secs) * time.Second
		}
	}
	out.TelegramBotToken, _ = snap.GetString("cluster", "telegram_bot_token", ctx)
	out.TelegramChatID, _ = snap.GetString("cluster", "telegram_chat_id", ctx)

	if v, err := snap.Get("cluster", "arbitrators", ctx, true); err == nil {
		if list, ok := v.([]string); ok {
			for _, entry := range list {
				name, url, ok := cutOnce(entry, ":")
				if !ok {
					continue
				}
				out.Arbitrators = append(out.Arbitrators, arbitratorConfig{Name: name, URL: url})
			}
		}
	}

	doc := snap.Document()
	for _, section := range doc.Sections() {
		if !strings.HasPrefix(section, "hb#") {
			continue
		}
		kind := strings.TrimPrefix(section, "hb#")
		drv := hbDriverConfig{Kind: kind}

		switch kind {
		case "unicast":
			drv.Listen, _ = snap.GetString(section, "listen", ctx)
			drv.Peers = parsePeerMap(getList(snap, section, "peers", ctx))
		case "multicast":
			drv.MulticastAddr, _ = snap.GetString(section, "addr", ctx)
			drv.MulticastIface, _ = snap.GetString(section, "iface", ctx)
		case "disk":
			drv.DiskPath, _ = snap.GetString(section, "path", ctx)
			if v, err := snap.Get(section, "self_slot", ctx, true); err == nil {
				if n, ok := v.(int64); ok {
					drv.DiskSelfSlot = int(n)
				}
			}
			drv.DiskPeerSlots = parsePeerSlots(getList(snap, section, "peer_slots", ctx))
		case "relay":
			drv.RelayURL, _ = snap.GetString(section, "url", ctx)
			drv.RelayPeers = out.Nodes
		default:
			continue
		}
		out.HBDrivers = append(out.HBDrivers, drv)
	}

	ldapCfg, err := loadLDAPConfig(snap, ctx)
	if err != nil {
		return nil, err
	}
	if ldapCfg.Enabled {
		out.LDAP = ldapCfg
	}

	return out, nil
}

func loadLDAPConfig(snap *config.Snapshot, ctx config.ResolveContext) (*ldap.Config, error) {
	enabled, err := snap.Get("ldap", "enabled", ctx, true)
	if err != nil {
		return ldap.GetDefaultConfig(), nil
	}
	en, _ := enabled.(bool)
	if !en {
		return ldap.GetDefaultConfig(), nil
	}

	server, _ := snap.GetString("ldap", "server", ctx)
	bindDN, _ := snap.GetString("ldap", "bind_dn", ctx)
	bindPW, _ := snap.GetString("ldap", "bind_password", ctx)
	baseDN, _ := snap.GetString("ldap", "base_dn", ctx)
	userFilter, _ := snap.GetString("ldap", "user_filter", ctx)
	defaultRole, _ := snap.GetString("ldap", "default_role", ctx)
	userIDAttr, _ := snap.GetString("ldap", "user_id_attribute", ctx)
	userNameAttr, _ := snap.GetString("ldap", "user_name_attribute", ctx)
	userEmailAttr, _ := snap.GetString("ldap", "user_email_attribute", ctx)
	groupBaseDN, _ := snap.GetString("ldap", "group_base_dn", ctx)
	groupFilter, _ := snap.GetString("ldap", "group_filter", ctx)
	groupMemberAttr, _ := snap.GetString("ldap", "group_member_attribute", ctx)

	port := 389
	if v, err := snap.Get("ldap", "port", ctx, true); err == nil {
		if n, ok := v.(int64); ok {
			port = int(n)
		}
	}
	useTLS := false
	if v, err := snap.Get("ldap", "use_tls", ctx, true); err == nil {
		useTLS, _ = v.(bool)
	}
	jit := true
	if v, err := snap.Get("ldap", "jit_provisioning", ctx, true); err == nil {
		jit, _ = v.(bool)
	}
	timeout := 10
	if v, err := snap.Get("ldap", "timeout", ctx, true); err == nil {
		if n, ok := v.(int64); ok {
			timeout = int(n)
		}
	}

	var mappings []ldap.GroupMapping
	for _, entry := range getList(snap, "ldap", "group_mappings", ctx) {
		group, role, ok := cutOnce(entry, "=")
		if !ok {
			continue
		}
		mappings = append(mappings, ldap.GroupMapping{LDAPGroup: group, RoleName: role})
	}

	cfg := &ldap.Config{
		Enabled:            true,
		Server:             server,
		Port:               port,
		UseTLS:             useTLS,
		BindDN:             bindDN,
		BindPassword:       bindPW,
		BaseDN:             baseDN,
		UserFilter:         userFilter,
		UserIDAttribute:    userIDAttr,
		UserNameAttribute:  userNameAttr,
		UserEmailAttribute: userEmailAttr,
		GroupBaseDN:        groupBaseDN,
		GroupFilter:        groupFilter,
		GroupMemberAttr:    groupMemberAttr,
		GroupMappings:      mappings,
		JITProvisioning:    jit,
		DefaultRole:        defaultRole,
		Timeout:            timeout,
	}
	if err := ldap.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("cluster.conf: [ldap] %w", err)
	}
	return cfg, nil
}

// loadEncryptedSecret reads and decrypts an auth.conf-style at-rest
// encrypted secret file (internal/security.EncryptSecretFile's wire
// format), using the passphrase from secretPassphraseEnv.
func loadEncryptedSecret(path string) (string, error) {
	passphrase := os.Getenv(secretPassphraseEnv)
	if passphrase == "" {
		return "", fmt.Errorf("cluster.conf: secret_file set but %s is not in the environment", secretPassphraseEnv)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading secret_file %s: %w", path, err)
	}
	plain, err := security.DecryptSecretFile(passphrase, data)
	if err != nil {
		return "", fmt.Errorf("decrypting secret_file %s: %w", path, err)
	}
	return string(plain), nil
}

func getList(snap *config.Snapshot, section, key string, ctx config.ResolveContext) []string {
	v, err := snap.Get(section, key, ctx, true)
	if err != nil {
		return nil
	}
	list, _ := v.([]string)
	return list
}

func parsePeerMap(entries []string) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		name, addr, ok := cutOnce(e, "=")
		if ok {
			out[name] = addr
		}
	}
	return out
}

func parsePeerSlots(entries []string) map[string]int {
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		name, slot, ok := cutOnce(e, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(slot)
		if err != nil {
			continue
		}
		out[name] = n
	}
	return out
}

// cutOnce splits s on the first occurrence of sep, mirroring
// strings.Cut (kept local since the rest of the file already imports
// "strings" for HasPrefix/TrimPrefix).
func cutOnce(s, sep string) (before, after string, found bool) {
	i := strings.Index(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
