package main

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// 由 -ldflags "-X main.buildVersion=... -X main.buildCommit=... -X main.buildTime=..." 注入。
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildTime    = ""
)

// BuildInfo 前端 "关于" 面板展示的构建信息。
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	Runtime   string `json:"runtime"`
}

// vcsInfo go build 自动写入的 VCS 元数据。
type vcsInfo struct {
	revision string
	time     string
	modified bool
}

func readVCS() vcsInfo {
	var v vcsInfo
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = strings.TrimSpace(s.Value)
		case "vcs.time":
			v.time = strings.TrimSpace(s.Value)
		case "vcs.modified":
			v.modified = s.Value == "true"
		}
	}
	return v
}

// short 取前 12 位提交哈希, 工作区有改动时追加 -dirty。
func (v vcsInfo) short() string {
	rev := v.revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && v.modified {
		rev += "-dirty"
	}
	return rev
}

func isUnset(s, placeholder string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == placeholder
}

func currentBuildInfo() BuildInfo {
	return buildInfoFrom(readVCS())
}

func buildInfoFrom(vcs vcsInfo) BuildInfo {
	bi := BuildInfo{
		Version:   strings.TrimSpace(buildVersion),
		Commit:    strings.TrimSpace(buildCommit),
		BuildTime: strings.TrimSpace(buildTime),
		GoVersion: runtime.Version(),
		Runtime:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	short := vcs.short()
	if isUnset(bi.Version, "dev") {
		bi.Version = "dev"
		if short != "" {
			bi.Version = "dev+" + short
		}
	}
	if isUnset(bi.Commit, "unknown") {
		bi.Commit = "unknown"
		if short != "" {
			bi.Commit = short
		}
	}
	if isUnset(bi.BuildTime, "unknown") {
		bi.BuildTime = vcs.time
	}
	if bi.BuildTime == "" {
		bi.BuildTime = "unknown"
	} else if t, err := time.Parse(time.RFC3339, bi.BuildTime); err == nil {
		bi.BuildTime = t.UTC().Format("2006-01-02 15:04:05 MST")
	}
	return bi
}
