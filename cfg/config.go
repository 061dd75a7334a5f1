// Package cfg loads a stack instance's configuration: the link it binds
// to, its IPv4 address, how many workers to run, and any statically
// configured ARP entries (spec.md §6's external interface, generalized
// from the teacher's YAML-backed credentials loader to stack
// configuration).
package cfg

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/rjavaux/netstack/internal/netutil"
)

// StaticARPEntry pins one protocol-to-hardware address mapping, applied to
// every worker's resolver at startup (spec.md §5's one piece of
// inter-worker shared configuration).
type StaticARPEntry struct {
	IPv4 netutil.IPv4Addr
	MAC  netutil.MACAddr
}

// Config is one stack instance's configuration (spec.md §6).
type Config struct {
	// LinkName identifies the adapter to bind to — a host NIC name in
	// production, or the loopback adapter's label when testing.
	LinkName string

	// Addr is this instance's IPv4 address.
	Addr netutil.IPv4Addr

	// MAC is this instance's Ethernet address on LinkName. If absent from
	// the config file, it is resolved from the host interface named
	// LinkName (pcapadapter requires an explicit address rather than
	// discovering it itself; see internal/adapter/pcapadapter.Open).
	MAC netutil.MACAddr

	// Workers is the number of worker loops to run, one per dataplane
	// core (spec.md §5).
	Workers int

	// StartCore is the dataplane core index the first worker should pin
	// to, if core pinning is available; -1 means "let the runtime
	// schedule them".
	StartCore int

	// StaticARP entries are installed into every worker's ARP resolver
	// cache before any worker starts (spec.md §5).
	StaticARP []StaticARPEntry
}

const (
	defaultWorkers   = 1
	defaultStartCore = -1
)

// Load reads a YAML config file at path using viper, the same library the
// teacher's credentials loader is built on.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("start_core", defaultStartCore)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	linkName := v.GetString("link")
	if linkName == "" {
		return Config{}, errors.New("cfg: \"link\" is required")
	}

	addr, err := parseIPv4(v.GetString("addr"))
	if err != nil {
		return Config{}, errors.Wrap(err, "cfg: invalid \"addr\"")
	}

	entries, err := parseStaticARP(v.GetStringSlice("static_arp"))
	if err != nil {
		return Config{}, errors.Wrap(err, "cfg: invalid \"static_arp\"")
	}

	mac, err := resolveMAC(v.GetString("mac"), linkName)
	if err != nil {
		return Config{}, errors.Wrap(err, "cfg: invalid \"mac\"")
	}

	return Config{
		LinkName:  linkName,
		Addr:      addr,
		MAC:       mac,
		Workers:   v.GetInt("workers"),
		StartCore: v.GetInt("start_core"),
		StaticARP: entries,
	}, nil
}

// resolveMAC parses an explicit MAC string if given, else looks up
// linkName's hardware address on the host.
func resolveMAC(explicit, linkName string) (netutil.MACAddr, error) {
	if explicit != "" {
		return parseMAC(explicit)
	}
	iface, err := net.InterfaceByName(linkName)
	if err != nil {
		return netutil.MACAddr{}, errors.Wrapf(err, "no \"mac\" given and link %q not found", linkName)
	}
	if len(iface.HardwareAddr) != 6 {
		return netutil.MACAddr{}, errors.Errorf("link %q has no Ethernet hardware address", linkName)
	}
	return netutil.MACFromBytes(iface.HardwareAddr), nil
}

func parseIPv4(s string) (netutil.IPv4Addr, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return netutil.IPv4Addr{}, errors.Errorf("%q is not a valid IP address", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return netutil.IPv4Addr{}, errors.Errorf("%q is not an IPv4 address", s)
	}
	return netutil.IPv4FromBytes(v4), nil
}

func parseMAC(s string) (netutil.MACAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return netutil.MACAddr{}, errors.Wrapf(err, "%q is not a valid MAC address", s)
	}
	return netutil.MACFromBytes(hw), nil
}

// parseStaticARP parses "ip=mac" entries (e.g. "10.0.0.2=aa:bb:cc:dd:ee:ff").
func parseStaticARP(raw []string) ([]StaticARPEntry, error) {
	entries := make([]StaticARPEntry, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("expected \"ip=mac\", got %q", r)
		}
		ip, err := parseIPv4(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, err
		}
		mac, err := parseMAC(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, err
		}
		entries = append(entries, StaticARPEntry{IPv4: ip, MAC: mac})
	}
	return entries, nil
}

// String renders a Config for logging.
func (c Config) String() string {
	return "link=" + c.LinkName + " addr=" + c.Addr.String() + " workers=" + strconv.Itoa(c.Workers)
}
