package classifier

import "regexp"

// defaultDangerousPatterns is the built-in "dangerous" tier: commands that
// require out-of-band operator approval in a private chat, and are treated
// as blocked in a group. Recategorized from the pattern families an exec
// tool commonly denies outright. Environment-dumping commands are not in
// this set; the classifier blocks them only when the configurable
// blocked-pattern file loaded by LoadBlockedPatterns lists them (the exec
// tool's own deny patterns in internal/tools/shell.go reject them too).
func defaultDangerousPatterns() []compiledDangerous {
	mk := func(category, reason, pattern string) compiledDangerous {
		return compiledDangerous{category: category, reason: reason, re: regexp.MustCompile(pattern)}
	}
	return []compiledDangerous{
		// ── Destructive filesystem operations ──
		mk("destructive", "recursive/forced delete", `\brm\s+-[rf]{1,2}\b`),
		mk("destructive", "recursive/forced delete", `\brm\s+.*--recursive`),
		mk("destructive", "recursive/forced delete", `\brm\s+.*--force`),
		mk("destructive", "recursive/forced delete", `\bdel\s+/[fq]\b`),
		mk("destructive", "recursive delete", `\brmdir\s+/s\b`),
		mk("destructive", "disk/partition tool", `\b(mkfs|diskpart)\b|\bformat\s`),
		mk("destructive", "raw disk write", `\bdd\s+if=`),
		mk("destructive", "raw disk write", `>\s*/dev/sd[a-z]\b`),
		mk("destructive", "shred", `\bshred\b`),
		mk("destructive", "fork bomb", `:\(\)\s*\{.*\};\s*:`),
		mk("destructive", "full filesystem scan", `\bfind\s+/\s`),

		// ── Privilege escalation ──
		mk("privesc", "privilege escalation", `\bsudo\b`),
		mk("privesc", "privilege escalation", `\bsu\s+-`),
		mk("privesc", "namespace entry", `\bnsenter\b`),
		mk("privesc", "namespace manipulation", `\bunshare\b`),
		mk("privesc", "mount manipulation", `\b(mount|umount)\b`),
		mk("privesc", "capability manipulation", `\b(capsh|setcap|getcap)\b`),
		mk("privesc", "world-writable permission grant", `\bchmod\s+(-R\s+)?0?777\b`),
		mk("privesc", "root-owned path ownership change", `\bchown\b.*\s+/`),

		// ── System/network disruption ──
		mk("system", "firewall flush", `\biptables\b.*-F\b|\bufw\b.*disable`),
		mk("system", "mass package removal", `\bapt(-get)?\s+(remove|purge)\s+.*\*|\byum\s+remove\s+.*\*`),
		mk("system", "shutdown/reboot", `\b(shutdown|reboot|poweroff)\b`),
		mk("system", "process kill", `\bkill\s+-9\s`),
		mk("system", "mass process kill", `\b(killall|pkill)\b`),

		// ── Data exfiltration / remote execution ──
		mk("exfil", "piped remote script execution", `\bcurl\b.*\|\s*(ba)?sh\b`),
		mk("exfil", "outbound data upload", `\bcurl\b.*(-d\b|-F\b|--data|--upload|--form|-T\b|-X\s*P(UT|OST|ATCH))`),
		mk("exfil", "piped remote script execution", `\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
		mk("exfil", "outbound data upload", `\bwget\b.*--post-(data|file)`),
		mk("exfil", "bash /dev/tcp exfiltration channel", `/dev/tcp/`),
		mk("exfil", "force-push (destructive remote history rewrite)", `\bgit\s+push\b.*(-f\b|--force\b)`),

		// ── Reverse shells ──
		mk("revshell", "netcat listener/reverse shell", `\b(nc|ncat|netcat)\b.*-[el]\b`),
		mk("revshell", "socat relay", `\bsocat\b`),
		mk("revshell", "raw TLS socket client", `\bopenssl\b.*s_client`),
		mk("revshell", "scripted raw socket", `\bpython[23]?\b.*\bimport\s+(socket|http\.client|urllib|requests)\b`),
		mk("revshell", "named pipe for shell redirection", `\bmkfifo\b`),

		// ── Persistence ──
		mk("persistence", "crontab modification", `\bcrontab\b`),
		mk("persistence", "shell init file injection", `>\s*~/?\.(bashrc|bash_profile|profile|zshrc)`),
		mk("persistence", "shell init file injection", `\btee\b.*\.(bashrc|bash_profile|profile|zshrc)`),

		// ── Destructive database operations ──
		mk("database", "destructive DDL/unbounded DELETE", `(?i)\b(DROP|TRUNCATE)\s+(TABLE|DATABASE)\b`),
		mk("database", "unbounded DELETE", `(?i)\bDELETE\s+FROM\s+\w+\s*;?\s*$`),

		// ── Container/orchestration destructive operations ──
		mk("container", "delete all cluster resources", `\bkubectl\b.*\bdelete\b.*--all\b`),
		mk("container", "prune all docker resources", `\bdocker\s+system\s+prune\b.*-a\b`),
		mk("container", "docker socket access", `/var/run/docker\.sock|docker\.(sock|socket)`),
	}
}
