package repo

import "time"

const targetCacheTTL = time.Minute * 5

// TargetModel 服务目录的持久化模型。
// 容器名与允许的组以逗号分隔字符串落库，时长以目录字符串形式落库（"1h"、"3600"）。
type TargetModel struct {
	Name             string `json:"name" pg:"name,pk"`
	AllowedGroups    string `json:"allowed_groups" pg:"allowed_groups,notnull"`
	ContainerNames   string `json:"container_names" pg:"container_names,notnull"`
	AutostartEnabled bool   `json:"autostart_enabled" pg:"autostart_enabled,notnull,use_zero"`
	SessionDuration  string `json:"session_duration" pg:"session_duration,notnull"`
	RefreshInterval  string `json:"refresh_interval" pg:"refresh_interval"`
}

type cacheTarget struct {
	Name             string   `json:"name"`
	AllowedGroups    []string `json:"allowed_groups"`
	ContainerNames   []string `json:"container_names"`
	AutostartEnabled bool     `json:"autostart_enabled"`
	SessionDuration  string   `json:"session_duration"`
	RefreshInterval  string   `json:"refresh_interval"`
}

func targetCacheKey(name string) string {
	return "target:" + name + ":entry"
}
