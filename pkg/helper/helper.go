package helper

import (
	"strings"

	"github.com/flaboy/aira-market/pkg/config"
)

// BuildUrl 基于站点URL拼接完整地址
func BuildUrl(path string) string {
	base := ""
	if config.Config != nil {
		base = strings.TrimRight(config.Config.SiteURL, "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
