package registry

import (
	"strconv"
	"strings"
	"time"
)

// Target 是某个入站服务名解析出的授权/编排记录。
// 对应服务目录中的一条 package 条目。
type Target struct {
	Name             string        `json:"name"`
	AllowedGroups    []string      `json:"allowed_groups"`
	ContainerNames   []string      `json:"container_names"`
	AutostartEnabled bool          `json:"autostart_enabled"`
	SessionDuration  time.Duration `json:"session_duration"`
	RefreshInterval  time.Duration `json:"refresh_interval"`
}

// ParseDuration converts catalog duration strings into a time.Duration.
// Accepts bare seconds ("90"), single units ("30s", "2h"), and
// space-separated compounds ("1h 30m").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	var total time.Duration
	for _, item := range strings.Fields(s) {
		d, err := time.ParseDuration(item)
		if err != nil {
			return 0, err
		}
		total += d
	}
	return total, nil
}

// SplitNames 将逗号分隔的容器名列表拆分并去掉空项
func SplitNames(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
