package jail

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bsdci/libioc/iocerrors"
)

// DevfsRulesetResolver clones a base devfs ruleset, appends the rules a
// jail's configuration requires (DHCP needs bpf, ZFS mounts need the zfs
// devfs path), and allocates it a host-unique ruleset number the first
// time it's seen (§4.6.2). RulesPath is injectable for testability
// (SUPPLEMENTED FEATURES: "carried as jail.DevfsRulesetResolver with an
// injectable file path").
type DevfsRulesetResolver struct {
	RulesPath string // conventionally "/etc/devfs.rules"
	Reload    func(ctx context.Context) error
}

// rule is one parsed "[name=N]\n<body...>" block of /etc/devfs.rules.
type rule struct {
	name  string
	num   int
	lines []string
}

func parseDevfsRules(r *bufio.Scanner) ([]rule, error) {
	var rules []rule
	var cur *rule
	for r.Scan() {
		line := r.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			if cur != nil {
				rules = append(rules, *cur)
			}
			body := strings.Trim(trimmed, "[]")
			parts := strings.SplitN(body, "=", 2)
			if len(parts) != 2 {
				return nil, iocerrors.New(iocerrors.KindDevfsRuleUnparsable, line)
			}
			num, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, iocerrors.Wrap(iocerrors.KindDevfsRuleUnparsable, line, err)
			}
			cur = &rule{name: parts[0], num: num}
			continue
		}
		if cur != nil && trimmed != "" {
			cur.lines = append(cur.lines, line)
		}
	}
	if cur != nil {
		rules = append(rules, *cur)
	}
	return rules, r.Err()
}

func (d DevfsRulesetResolver) load() ([]rule, error) {
	f, err := os.Open(d.RulesPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseDevfsRules(bufio.NewScanner(f))
}

func nextRulesetNumber(rules []rule) int {
	max := 1000
	for _, r := range rules {
		if r.num > max {
			max = r.num
		}
	}
	return max + 1
}

// Resolve clones baseRuleset (by number or name) and appends the extra
// lines §4.6.2 names, assigning a new ruleset number and reloading devfs
// if this exact rule body isn't already present on the host.
func (d DevfsRulesetResolver) Resolve(ctx context.Context, baseRuleset string, dhcp, allowMountZFS bool) (int, error) {
	rules, err := d.load()
	if err != nil {
		return 0, err
	}

	var base *rule
	baseNum, err := strconv.Atoi(baseRuleset)
	isNumeric := err == nil
	for i := range rules {
		if (!isNumeric && rules[i].name == baseRuleset) || (isNumeric && rules[i].num == baseNum) {
			base = &rules[i]
			break
		}
	}
	if base == nil {
		return 0, iocerrors.New(iocerrors.KindDevfsRuleNotFound, baseRuleset)
	}

	body := append([]string{}, base.lines...)
	if dhcp {
		body = append(body, "add path 'bpf*' unhide")
	}
	if allowMountZFS {
		body = append(body, "add path zfs unhide")
	}

	for _, r := range rules {
		if r.name == base.name {
			continue
		}
		if stringsEqual(r.lines, body) {
			return r.num, nil
		}
	}

	num := nextRulesetNumber(rules)
	if err := d.appendRule(fmt.Sprintf("iocage_%d", num), num, body); err != nil {
		return 0, err
	}
	if d.Reload != nil {
		if err := d.Reload(ctx); err != nil {
			return 0, err
		}
	}
	return num, nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (d DevfsRulesetResolver) appendRule(name string, num int, lines []string) error {
	f, err := os.OpenFile(d.RulesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "[%s=%d]\n", name, num)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return w.Flush()
}
