package fixtures

import (
	"os"
	"path/filepath"
)

// BaseConfig routes mpv to the headset and Big Picture mode to HDMI.
const BaseConfig = `
[settings]
priority = "index"
smart_toggle = true
notify_manual = false
notify_rules = false
profile_switch_retries = 5
profile_switch_delay_ms = 1

[[sinks]]
name = "` + SpeakersNode + `"
desc = "Speakers"
default = true

[[sinks]]
name = "` + HeadphonesNode + `"
desc = "Headphones"

[[sinks]]
name = "` + HDMINode + `"
desc = "TV"

[[rules]]
app_id = "^mpv$"
sink = "Headphones"
desc = "Video"

[[rules]]
app_id = "^steam$"
title = "Big Picture"
sink = 3
desc = "Couch gaming"
`

// WriteConfig writes content to dir/config.toml and returns the path.
func WriteConfig(dir, content string) (string, error) {
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ReplaceConfig swaps the file in with a rename, the way editors save.
func ReplaceConfig(path, content string) error {
	tmp := path + ".new"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
